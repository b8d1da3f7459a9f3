package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	// Packages
	jwt "github.com/golang-jwt/jwt/v4"
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Authority mints and verifies HS256 bearer credentials
type Authority struct {
	opts
	secret []byte
}

type claims struct {
	Type  schema.TokenKind `json:"type"`
	Owner string           `json:"owner,omitempty"`
	jwt.StandardClaims
}

var _ relaypacs.Authority = (*Authority)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const minSecretLength = 32

var insecureSecrets = []string{
	"dev-secret-key-change-in-production",
	"change-me",
	"changeme",
	"secret",
	"password",
	"admin",
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New returns an authority which signs with the secret. The secret must be at
// least 32 characters and not a well-known placeholder.
func New(secret string, opt ...Opt) (*Authority, error) {
	for _, v := range insecureSecrets {
		if strings.EqualFold(secret, v) {
			return nil, fmt.Errorf("secret key is set to an insecure default value")
		}
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("secret key must be at least %d characters long (current: %d)", minSecretLength, len(secret))
	}

	self := new(Authority)
	if o, err := applyOpts(opt); err != nil {
		return nil, err
	} else {
		self.opts = o
	}
	self.secret = []byte(secret)

	// Return success
	return self, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// UploadTTL returns the lifetime of upload credentials
func (a *Authority) UploadTTL() time.Duration {
	return a.uploadTTL
}

// MintAccess returns a general API credential for the owner
func (a *Authority) MintAccess(owner string) (string, time.Time, error) {
	if owner == "" {
		return "", time.Time{}, httpresponse.ErrBadRequest.With("missing owner")
	}
	return a.mint(schema.TokenAccess, owner, owner, a.accessTTL)
}

// MintUpload returns a credential scoped to exactly one session
func (a *Authority) MintUpload(sessionID, owner string) (string, time.Time, error) {
	if sessionID == "" {
		return "", time.Time{}, httpresponse.ErrBadRequest.With("missing session id")
	}
	return a.mint(schema.TokenUpload, sessionID, owner, a.uploadTTL)
}

// Verify parses and validates a credential of the given kind
func (a *Authority) Verify(token string, kind schema.TokenKind) (*schema.Claims, error) {
	if token == "" {
		return nil, httpresponse.Err(http.StatusUnauthorized).With("missing credential")
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, httpresponse.Err(http.StatusUnauthorized).Withf("invalid credential: %v", err)
	} else if !parsed.Valid {
		return nil, httpresponse.Err(http.StatusUnauthorized).With("invalid credential")
	} else if !c.VerifyIssuer(a.issuer, true) {
		return nil, httpresponse.Err(http.StatusUnauthorized).With("invalid credential issuer")
	} else if c.Type != kind {
		return nil, httpresponse.Err(http.StatusUnauthorized).Withf("expected %s credential, got %q", kind, c.Type)
	} else if c.Subject == "" {
		return nil, httpresponse.Err(http.StatusUnauthorized).With("credential has no subject")
	}

	// Return the claims
	return &schema.Claims{
		Kind:      c.Type,
		Subject:   c.Subject,
		Owner:     c.Owner,
		ExpiresAt: time.Unix(c.ExpiresAt, 0),
	}, nil
}

// Bearer returns the bearer token from the request Authorization header, or
// an empty string
func Bearer(r *http.Request) string {
	scheme, token, found := strings.Cut(r.Header.Get(schema.AuthorizationHeader), " ")
	if !found || !strings.EqualFold(scheme, schema.BearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (a *Authority) mint(kind schema.TokenKind, subject, owner string, ttl time.Duration) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		Type:  kind,
		Owner: owner,
		StandardClaims: jwt.StandardClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: expires.Unix(),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}
