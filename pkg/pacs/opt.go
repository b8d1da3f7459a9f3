package pacs

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	// Packages
	client "github.com/mutablelogic/go-client"
	relaypacs "github.com/mutablelogic/go-relaypacs"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	metric "go.opentelemetry.io/otel/metric"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Target is the kind of PACS being forwarded to
type Target string

type opt struct {
	target         Target
	rest           string
	username       string
	password       string
	attempts       int
	interval       time.Duration
	attemptTimeout time.Duration
	maxElapsed     time.Duration
	tracer         trace.Tracer
	meter          metric.Meter
	logger         relaypacs.Logger
	clientOpts     []client.ClientOpt
}

// Opt is a functional option for the PACS client
type Opt func(*opt) error

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	TargetDcm4chee Target = "dcm4chee"
	TargetOrthanc  Target = "orthanc"
)

const (
	DefaultAttempts       = 3
	DefaultInterval       = time.Second
	DefaultAttemptTimeout = 30 * time.Second
	DefaultMaxElapsed     = 2 * time.Minute
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func applyOpts(opts ...Opt) (*opt, error) {
	o := &opt{
		target:         TargetDcm4chee,
		attempts:       DefaultAttempts,
		interval:       DefaultInterval,
		attemptTimeout: DefaultAttemptTimeout,
		maxElapsed:     DefaultMaxElapsed,
	}
	for _, fn := range opts {
		if err := fn(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// ParseTarget returns the target for a name, case-insensitive
func ParseTarget(name string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(name))); t {
	case TargetDcm4chee, TargetOrthanc:
		return t, nil
	default:
		return "", httpresponse.ErrBadRequest.Withf("unsupported pacs target %q", name)
	}
}

// WithTarget sets the kind of PACS. Only orthanc targets have a fallback.
func WithTarget(target Target) Opt {
	return func(o *opt) error {
		t, err := ParseTarget(string(target))
		if err != nil {
			return err
		}
		o.target = t
		return nil
	}
}

// WithOrthanc sets the Orthanc REST endpoint used for the fallback upload,
// for example http://localhost:8042
func WithOrthanc(endpoint string) Opt {
	return func(o *opt) error {
		if endpoint == "" {
			return nil
		}
		if u, err := url.Parse(endpoint); err != nil {
			return err
		} else if u.Scheme != "http" && u.Scheme != "https" {
			return httpresponse.ErrBadRequest.Withf("orthanc endpoint %q must be http or https", endpoint)
		}
		o.rest = strings.TrimSuffix(endpoint, "/")
		return nil
	}
}

// WithBasicAuth sets credentials for both the DICOMweb and REST endpoints
func WithBasicAuth(username, password string) Opt {
	return func(o *opt) error {
		o.username, o.password = username, password
		return nil
	}
}

// WithRetry sets the number of STOW-RS attempts and the initial backoff
// interval
func WithRetry(attempts int, interval time.Duration) Opt {
	return func(o *opt) error {
		if attempts < 1 {
			return httpresponse.ErrBadRequest.Withf("attempts must be at least 1, got %d", attempts)
		}
		if interval <= 0 {
			return httpresponse.ErrBadRequest.Withf("retry interval must be positive, got %v", interval)
		}
		o.attempts, o.interval = attempts, interval
		return nil
	}
}

// WithTimeout sets the timeout for each attempt and the bound on total time
// spent retrying
func WithTimeout(attempt, maxElapsed time.Duration) Opt {
	return func(o *opt) error {
		if attempt <= 0 || maxElapsed <= 0 {
			return fmt.Errorf("timeouts must be positive")
		}
		o.attemptTimeout, o.maxElapsed = attempt, maxElapsed
		return nil
	}
}

func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opt) error {
		o.tracer = tracer
		return nil
	}
}

func WithMeter(meter metric.Meter) Opt {
	return func(o *opt) error {
		o.meter = meter
		return nil
	}
}

func WithLogger(logger relaypacs.Logger) Opt {
	return func(o *opt) error {
		o.logger = logger
		return nil
	}
}

// WithClientOpts passes options to the underlying DICOMweb client
func WithClientOpts(opts ...client.ClientOpt) Opt {
	return func(o *opt) error {
		o.clientOpts = append(o.clientOpts, opts...)
		return nil
	}
}
