package chunkstore

import (
	"fmt"
	"net/url"
	"path/filepath"

	// Packages
	aws "github.com/aws/aws-sdk-go-v2/aws"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type opt struct {
	url       *url.URL
	params    url.Values // driver parameters merged into the bucket URL
	awsConfig *aws.Config
	endpoint  string
	scratch   string
	tracer    trace.Tracer
}

// Opt configures a chunk store
type Opt func(*opt) error

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func apply(u *url.URL, opts ...Opt) (*opt, error) {
	o := &opt{url: u, params: u.Query()}
	for _, fn := range opts {
		if err := fn(o); err != nil {
			return nil, err
		}
	}

	// Driver parameters only apply to the URL-opened buckets
	o.url.RawQuery = o.params.Encode()

	// Return success
	return o, nil
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithEndpoint sets the endpoint of an S3-compatible service, which is
// addressed path-style. An empty endpoint is ignored.
func WithEndpoint(endpoint string) Opt {
	return func(o *opt) error {
		if endpoint == "" {
			return nil
		}
		u, err := url.Parse(endpoint)
		if err != nil {
			return err
		}
		switch u.Scheme {
		case "http":
			o.params.Set("disable_https", "true")
		case "https":
		default:
			return fmt.Errorf("chunk store endpoint %q must be http:// or https://", endpoint)
		}
		o.endpoint = u.String()
		o.params.Set("endpoint", o.endpoint)
		o.params.Set("use_path_style", "true")
		return nil
	}
}

// WithAnonymous opens s3:// buckets without credentials
func WithAnonymous() Opt {
	return func(o *opt) error {
		o.params.Set("anonymous", "true")
		return nil
	}
}

// WithCreateDir creates the root of a file:// store when missing
func WithCreateDir() Opt {
	return func(o *opt) error {
		o.params.Set("create_dir", "true")
		return nil
	}
}

// WithScratchDir sets the absolute path of the directory merged files are
// written to. The default is a directory under os.TempDir.
func WithScratchDir(dir string) Opt {
	return func(o *opt) error {
		switch {
		case dir == "":
			return nil
		case !filepath.IsAbs(dir):
			return fmt.Errorf("scratch dir %q must be an absolute path", dir)
		}
		o.scratch = filepath.Clean(dir)
		return nil
	}
}

// WithTracer adds tracing middleware to the S3 client of a store opened
// with WithAWSConfig
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opt) error {
		o.tracer = tracer
		return nil
	}
}

// WithAWSConfig opens s3:// buckets with cfg rather than from URL parameters
func WithAWSConfig(cfg aws.Config) Opt {
	return func(o *opt) error {
		o.awsConfig = &cfg
		return nil
	}
}
