package schema

import (
	"time"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// TokenKind distinguishes general API credentials from session-scoped ones.
type TokenKind string

// Claims are the verified contents of a bearer credential. For upload
// credentials Subject is the session id; for access credentials it is the
// owner.
type Claims struct {
	Kind      TokenKind `json:"type"`
	Subject   string    `json:"sub"`
	Owner     string    `json:"owner,omitempty"`
	ExpiresAt time.Time `json:"exp"`
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	TokenAccess TokenKind = "access"
	TokenUpload TokenKind = "upload"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Scoped returns true if the claims are an upload credential for the session.
func (c *Claims) Scoped(sessionID string) bool {
	return c != nil && c.Kind == TokenUpload && c.Subject == sessionID
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (c Claims) String() string {
	return types.Stringify(c)
}
