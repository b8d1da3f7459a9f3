package session

import (
	"time"

	// Packages
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for session manager configuration.
type Opt func(*opts) error

type opts struct {
	tracer    trace.Tracer
	logger    relaypacs.Logger
	store     *Store
	authority relaypacs.Authority
	chunkSize int64
	ttl       time.Duration
	now       func() time.Time
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithTracer sets the tracer used for tracing operations.
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opts) error {
		o.tracer = tracer
		return nil
	}
}

// WithLogger sets the logger used to report recovery and sweep problems.
func WithLogger(logger relaypacs.Logger) Opt {
	return func(o *opts) error {
		o.logger = logger
		return nil
	}
}

// WithStore sets the durable store for session records. Required.
func WithStore(store *Store) Opt {
	return func(o *opts) error {
		o.store = store
		return nil
	}
}

// WithAuthority sets the authority which mints upload credentials. Required.
func WithAuthority(authority relaypacs.Authority) Opt {
	return func(o *opts) error {
		o.authority = authority
		return nil
	}
}

// WithChunkSize sets the chunk size recommended to clients.
func WithChunkSize(size int64) Opt {
	return func(o *opts) error {
		if size > 0 {
			o.chunkSize = size
		}
		return nil
	}
}

// WithTTL sets the session lifetime. When the authority reports the lifetime
// of upload credentials the two must agree, and the session lifetime
// defaults to it.
func WithTTL(ttl time.Duration) Opt {
	return func(o *opts) error {
		if ttl > 0 {
			o.ttl = ttl
		}
		return nil
	}
}

// WithClock sets the time source used for creation and expiry.
func WithClock(now func() time.Time) Opt {
	return func(o *opts) error {
		if now != nil {
			o.now = now
		}
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func applyOpts(opt []Opt) (opts, error) {
	// Set defaults
	o := opts{
		chunkSize: schema.DefaultChunkSize,
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
