package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	// Packages
	aws "github.com/aws/aws-sdk-go-v2/aws"
	s3 "github.com/aws/aws-sdk-go-v2/service/s3"
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	otelaws "go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	blob "gocloud.dev/blob"
	s3blob "gocloud.dev/blob/s3blob"

	// Drivers
	_ "gocloud.dev/blob/fileblob" // file:// URLs
	_ "gocloud.dev/blob/memblob"  // mem:// URLs
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Store is a ChunkStore on a Go CDK bucket. The local-disk backend is a
// file:// bucket and the remote backend an s3:// bucket.
type Store struct {
	*opt
	bucket       *blob.Bucket
	bucketPrefix string // key prefix for bucket operations (empty for file://)
	root         string // root directory for file://
}

var _ relaypacs.ChunkStore = (*Store)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	chunkDir    = "chunks"
	chunkSuffix = ".part"
	mergeSuffix = ".dcm"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a chunk store using Go CDK.
// Supported URL schemes: s3://, file://, mem://
// Examples:
//   - "s3://my-bucket/chunks?region=us-east-1"
//   - "file:///var/lib/relaypacs/chunks"
//   - "mem://"
//
// For S3 URLs, an aws.Config can be provided via WithAWSConfig() for full
// control over AWS SDK configuration.
func New(ctx context.Context, u string, opts ...Opt) (*Store, error) {
	self := new(Store)

	// Set the options
	if url, err := url.Parse(u); err != nil {
		return nil, err
	} else if opt, err := apply(url, opts...); err != nil {
		return nil, err
	} else {
		self.opt = opt
	}

	// Default scratch directory
	if self.scratch == "" {
		self.scratch = filepath.Join(os.TempDir(), schema.SchemaName)
	}

	// Open the bucket
	var bucket *blob.Bucket
	var err error
	switch self.url.Scheme {
	case "file":
		if !path.IsAbs(self.url.Path) {
			return nil, fmt.Errorf("chunk store dir %q must be an absolute path", self.url.Path)
		}
		self.root = filepath.Clean(self.url.Path)
		openURL := &url.URL{Scheme: "file", Path: self.url.Path, RawQuery: self.url.RawQuery}
		bucket, err = blob.OpenBucket(ctx, openURL.String())
	case "s3":
		self.bucketPrefix = strings.Trim(self.url.Path, "/")
		if self.awsConfig != nil {
			bucket, err = s3blob.OpenBucket(ctx, self.s3client(), self.url.Host, nil)
		} else {
			openURL := *self.url
			openURL.Path = ""
			openURL.RawPath = ""
			bucket, err = blob.OpenBucket(ctx, openURL.String())
		}
	case "mem":
		self.bucketPrefix = strings.Trim(self.url.Path, "/")
		bucket, err = blob.OpenBucket(ctx, "mem://")
	default:
		return nil, fmt.Errorf("unsupported chunk store scheme %q", self.url.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	self.bucket = bucket

	// Return success
	return self, nil
}

// NewFileStore creates a chunk store on the local filesystem. dir must be an
// absolute path and is created if it does not exist.
func NewFileStore(ctx context.Context, dir string, opts ...Opt) (*Store, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("chunk store dir %q must be an absolute path", dir)
	}
	return New(ctx, "file://"+filepath.ToSlash(filepath.Clean(dir)), append([]Opt{WithCreateDir()}, opts...)...)
}

// Close the store
func (s *Store) Close() error {
	var result error
	if s.bucket != nil {
		result = errors.Join(result, s.bucket.Close())
		s.bucket = nil
	}

	// Return any errors
	return result
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Scheme returns the URL scheme of the store
func (s *Store) Scheme() string {
	return s.url.Scheme
}

// Bucket returns the underlying bucket, for stores which share it
func (s *Store) Bucket() *blob.Bucket {
	return s.bucket
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// s3client returns an S3 client for the configured AWS config, injecting
// tracing middleware when a tracer is set.
func (s *Store) s3client() *s3.Client {
	cfg := s.awsConfig.Copy()
	if s.tracer != nil {
		otelaws.AppendMiddlewares(&cfg.APIOptions)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.endpoint != "" {
			o.BaseEndpoint = aws.String(s.endpoint)
			o.UsePathStyle = true
		}
	})
}

// storageKey returns the blob storage key for a relative key
func (s *Store) storageKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.bucketPrefix != "" {
		return s.bucketPrefix + "/" + key
	}
	return key
}

// uploadPrefix returns the key prefix for all chunks of an upload
func (s *Store) uploadPrefix(uploadID string) string {
	return s.storageKey(uploadID) + "/"
}

// chunkKey returns the storage key for a chunk
func (s *Store) chunkKey(uploadID, fileID string, index int) string {
	return s.storageKey(fmt.Sprintf("%s/%s/%s/%d%s", uploadID, fileID, chunkDir, index, chunkSuffix))
}

// mergePath returns the local path of a merged file
func (s *Store) mergePath(uploadID, fileID string) string {
	return filepath.Join(s.scratch, uploadID, fileID+mergeSuffix)
}
