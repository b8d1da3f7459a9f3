package httphandler

import (
	"net/http"

	// Packages
	auth "github.com/mutablelogic/go-relaypacs/pkg/auth"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// verify returns the claims of the bearer credential, which must be of the
// given kind
func verify(r *http.Request, authority *auth.Authority, kind schema.TokenKind) (*schema.Claims, error) {
	return authority.Verify(auth.Bearer(r), kind)
}
