package schema

import "time"

////////////////////////////////////////////////////////////////////////////////
// TYPES

const (
	SchemaName = "relaypacs"

	// HTTP headers
	ContentMD5Header    = "Content-MD5"
	AuthorizationHeader = "Authorization"
	BearerScheme        = "Bearer"

	// Default upload parameters
	DefaultChunkSize     int64 = 1024 * 1024
	DefaultMaxChunkSize  int64 = 16 * 1024 * 1024
	DefaultMaxUploadSize int64 = 2048 * 1024 * 1024
	DefaultUploadTTL           = 30 * time.Minute
	DefaultAccessTTL           = 60 * time.Minute
	DefaultDuplicateWindow     = 24 * time.Hour

	// DefaultServiceLevel is applied when a study declares no service level
	DefaultServiceLevel = "routine"

	// Receipts returned by the forwarder
	ReceiptStowPrefix            = "STOW-SUCCESS-"
	ReceiptPartialStowPrefix     = "PARTIAL-STOW-SUCCESS-"
	ReceiptFallbackPrefix        = "FALLBACK-SUCCESS-"
	ReceiptPartialFallbackPrefix = "PARTIAL-FALLBACK-SUCCESS-"

	// ReasonDuplicateStudy prefixes the conflict reason for a duplicate study
	ReasonDuplicateStudy = "DUPLICATE_STUDY"
)
