package auth

import (
	"fmt"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for the authority
type Opt func(*opts) error

type opts struct {
	issuer    string
	accessTTL time.Duration
	uploadTTL time.Duration
	now       func() time.Time
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithIssuer sets the issuer claim, which is also required on verification
func WithIssuer(issuer string) Opt {
	return func(o *opts) error {
		o.issuer = issuer
		return nil
	}
}

// WithAccessTTL sets the lifetime of access credentials
func WithAccessTTL(ttl time.Duration) Opt {
	return func(o *opts) error {
		if ttl <= 0 {
			return fmt.Errorf("access credential lifetime must be positive, got %v", ttl)
		}
		o.accessTTL = ttl
		return nil
	}
}

// WithUploadTTL sets the lifetime of upload credentials, which is also the
// lifetime of an upload session
func WithUploadTTL(ttl time.Duration) Opt {
	return func(o *opts) error {
		if ttl <= 0 {
			return fmt.Errorf("upload credential lifetime must be positive, got %v", ttl)
		}
		o.uploadTTL = ttl
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func withClock(now func() time.Time) Opt {
	return func(o *opts) error {
		o.now = now
		return nil
	}
}

func applyOpts(opt []Opt) (opts, error) {
	// Set defaults
	o := opts{
		issuer:    schema.SchemaName,
		accessTTL: schema.DefaultAccessTTL,
		uploadTTL: schema.DefaultUploadTTL,
		now:       time.Now,
	}

	// Apply options
	for _, fn := range opt {
		if err := fn(&o); err != nil {
			return opts{}, err
		}
	}

	// Return success
	return o, nil
}
