package aws

import (
	"context"

	// Packages
	aws "github.com/aws/aws-sdk-go-v2/aws"
	config "github.com/aws/aws-sdk-go-v2/config"
	credentials "github.com/aws/aws-sdk-go-v2/credentials"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

// DefaultRegion is used when neither the options nor the environment name a
// region, as S3-compatible services usually ignore it
const DefaultRegion = "us-east-1"

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewConfig returns an AWS SDK configuration for an s3:// chunk or session
// store, starting from the default configuration chain.
func NewConfig(ctx context.Context, opt ...Opt) (aws.Config, error) {
	opts, err := applyOpts(opt...)
	if err != nil {
		return aws.Config{}, err
	}

	// Set load options
	var load []func(*config.LoadOptions) error
	if opts.region != "" {
		load = append(load, config.WithRegion(opts.region))
	}
	switch {
	case opts.anonymous:
		load = append(load, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case opts.accessKey != "" || opts.secretKey != "":
		if opts.accessKey == "" || opts.secretKey == "" {
			return aws.Config{}, httpresponse.ErrBadRequest.With("both access key and secret key are required")
		}
		load = append(load, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.accessKey, opts.secretKey, opts.session),
		))
	}

	// Load the default configuration
	cfg, err := config.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return aws.Config{}, err
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	// Return success
	return cfg, nil
}
