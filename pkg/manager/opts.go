package manager

import (
	"time"

	// Packages
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	session "github.com/mutablelogic/go-relaypacs/pkg/session"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	metric "go.opentelemetry.io/otel/metric"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for upload manager configuration.
type Opt func(*opts) error

type opts struct {
	tracer           trace.Tracer
	meter            metric.Meter
	logger           relaypacs.Logger
	store            relaypacs.ChunkStore
	sessions         *session.Manager
	validator        relaypacs.Validator
	forwarder        relaypacs.Forwarder
	registry         relaypacs.Registry
	notifier         relaypacs.Notifier
	maxUploadSize    int64
	maxChunkSize     int64
	duplicateWindow  time.Duration
	mergeConcurrency int
	notifyTimeout    time.Duration
	now              func() time.Time
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	DefaultMergeConcurrency = 4
	DefaultNotifyTimeout    = 10 * time.Second
)

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithTracer sets the tracer used for tracing operations.
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opts) error {
		o.tracer = tracer
		return nil
	}
}

// WithMeter sets the meter for upload counters.
func WithMeter(meter metric.Meter) Opt {
	return func(o *opts) error {
		o.meter = meter
		return nil
	}
}

func WithLogger(logger relaypacs.Logger) Opt {
	return func(o *opts) error {
		o.logger = logger
		return nil
	}
}

// WithChunkStore sets where chunks are stored. Required.
func WithChunkStore(store relaypacs.ChunkStore) Opt {
	return func(o *opts) error {
		o.store = store
		return nil
	}
}

// WithSessions sets the session manager. Required.
func WithSessions(sessions *session.Manager) Opt {
	return func(o *opts) error {
		o.sessions = sessions
		return nil
	}
}

// WithValidator sets the validator for merged files. Required.
func WithValidator(validator relaypacs.Validator) Opt {
	return func(o *opts) error {
		o.validator = validator
		return nil
	}
}

// WithForwarder sets the PACS forwarder. Required.
func WithForwarder(forwarder relaypacs.Forwarder) Opt {
	return func(o *opts) error {
		o.forwarder = forwarder
		return nil
	}
}

// WithRegistry enables duplicate study detection within the window.
func WithRegistry(registry relaypacs.Registry, window time.Duration) Opt {
	return func(o *opts) error {
		if window <= 0 {
			return httpresponse.ErrBadRequest.Withf("duplicate window must be positive, got %v", window)
		}
		o.registry, o.duplicateWindow = registry, window
		return nil
	}
}

// WithNotifier sets where completion events are sent.
func WithNotifier(notifier relaypacs.Notifier) Opt {
	return func(o *opts) error {
		o.notifier = notifier
		return nil
	}
}

// WithMaxUploadSize sets the largest total size an upload may declare.
func WithMaxUploadSize(size int64) Opt {
	return func(o *opts) error {
		if size <= 0 {
			return httpresponse.ErrBadRequest.Withf("max upload size must be positive, got %d", size)
		}
		o.maxUploadSize = size
		return nil
	}
}

// WithMaxChunkSize sets the largest accepted chunk body.
func WithMaxChunkSize(size int64) Opt {
	return func(o *opts) error {
		if size <= 0 {
			return httpresponse.ErrBadRequest.Withf("max chunk size must be positive, got %d", size)
		}
		o.maxChunkSize = size
		return nil
	}
}

// WithMergeConcurrency sets how many files are merged at once on completion.
func WithMergeConcurrency(n int) Opt {
	return func(o *opts) error {
		if n < 1 {
			return httpresponse.ErrBadRequest.Withf("merge concurrency must be at least 1, got %d", n)
		}
		o.mergeConcurrency = n
		return nil
	}
}

// WithNotifyTimeout bounds the delivery of each event.
func WithNotifyTimeout(timeout time.Duration) Opt {
	return func(o *opts) error {
		if timeout <= 0 {
			return httpresponse.ErrBadRequest.Withf("notify timeout must be positive, got %v", timeout)
		}
		o.notifyTimeout = timeout
		return nil
	}
}

// WithClock replaces the time source.
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
		maxUploadSize:    schema.DefaultMaxUploadSize,
		maxChunkSize:     schema.DefaultMaxChunkSize,
		duplicateWindow:  schema.DefaultDuplicateWindow,
		mergeConcurrency: DefaultMergeConcurrency,
		notifyTimeout:    DefaultNotifyTimeout,
		now:              time.Now,
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
