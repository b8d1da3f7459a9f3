package aws

////////////////////////////////////////////////////////////////////////////////
// TYPES

type opt struct {
	region    string
	accessKey string
	secretKey string
	session   string
	anonymous bool
}

// Opt represents a function that modifies the options
type Opt func(*opt) error

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func applyOpts(opts ...Opt) (*opt, error) {
	var o opt

	// Apply the options
	for _, fn := range opts {
		if err := fn(&o); err != nil {
			return nil, err
		}
	}

	// Return success
	return &o, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// WithRegion overrides the region from the environment
func WithRegion(region string) Opt {
	return func(o *opt) error {
		o.region = region
		return nil
	}
}

// WithCredentials sets static credentials. Empty values are ignored so the
// default credential chain applies.
func WithCredentials(accessKey, secretKey, session string) Opt {
	return func(o *opt) error {
		o.accessKey = accessKey
		o.secretKey = secretKey
		o.session = session
		return nil
	}
}

// WithAnonymous uses anonymous credentials, for S3-compatible services that
// do not require authentication
func WithAnonymous(v bool) Opt {
	return func(o *opt) error {
		o.anonymous = v
		return nil
	}
}
