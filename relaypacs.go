package relaypacs

import (
	"context"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// INTERFACES

// ChunkStore is durable keyed storage for raw chunk bytes
type ChunkStore interface {
	// SaveChunk writes the chunk, overwriting any existing chunk at the same
	// index, and returns its locator
	SaveChunk(ctx context.Context, uploadID, fileID string, index int, data []byte) (string, error)

	// ChunkExists probes for a stored chunk without reading it
	ChunkExists(ctx context.Context, uploadID, fileID string, index int) (bool, error)

	// VerifyChunk returns true if the stored chunk has the expected size
	VerifyChunk(ctx context.Context, uploadID, fileID string, index int, size int64) (bool, error)

	// ReadChunk returns the stored chunk content
	ReadChunk(ctx context.Context, uploadID, fileID string, index int) ([]byte, error)

	// DeleteChunk removes a stored chunk; no error if it does not exist
	DeleteChunk(ctx context.Context, uploadID, fileID string, index int) error

	// MergeChunks concatenates chunks 0..total-1 into a local file and returns
	// its path. When checksums is not nil, each chunk is verified before it
	// is appended.
	MergeChunks(ctx context.Context, uploadID, fileID string, total int, checksums map[int]string) (string, error)

	// CleanupUpload removes all chunks and scratch files for the upload
	CleanupUpload(ctx context.Context, uploadID string) error

	// Close the store
	Close() error
}

// Authority mints and verifies bearer credentials
type Authority interface {
	// MintAccess returns a general API credential for the owner
	MintAccess(owner string) (string, time.Time, error)

	// MintUpload returns a credential scoped to one session and owner
	MintUpload(sessionID, owner string) (string, time.Time, error)

	// Verify parses a credential of the given kind
	Verify(token string, kind schema.TokenKind) (*schema.Claims, error)
}

// Validator extracts structural metadata from a merged file, or fails
type Validator interface {
	Validate(ctx context.Context, path string) (*schema.StudyInfo, error)
}

// Forwarder pushes merged files to the downstream archive
type Forwarder interface {
	// Forward returns a receipt identifier on success
	Forward(ctx context.Context, paths []string) (string, error)

	// CheckForReport returns true if a report exists for the study
	CheckForReport(ctx context.Context, studyUID string) bool

	// RetrieveReportContent returns the report metadata for the study
	RetrieveReportContent(ctx context.Context, studyUID string) ([]byte, bool)
}

// Registry records uploaded studies for duplicate detection
type Registry interface {
	// Seen returns the most recent record for the hash created at or after since
	Seen(ctx context.Context, hash string, since time.Time) (*schema.StudyRecord, error)

	// Record stores the study hash for an upload
	Record(ctx context.Context, record schema.StudyRecord) error
}

// Notifier delivers upload events
type Notifier interface {
	Notify(ctx context.Context, event schema.Event) error
}

// Logger receives log lines from the gateway components
type Logger interface {
	Print(ctx context.Context, v ...any)
	Printf(ctx context.Context, format string, v ...any)
}
