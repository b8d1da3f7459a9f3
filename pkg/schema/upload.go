package schema

import (
	"io"
	"strings"
	"time"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// CompleteStatus is the aggregate outcome of a completed upload.
type CompleteStatus string

// ChunkStatus reports whether a chunk was newly received or replayed.
type ChunkStatus string

type InitRequest struct {
	Meta            StudyMeta `json:"study_metadata"`
	TotalFiles      int       `json:"total_files"`
	TotalBytes      int64     `json:"total_size_bytes"`
	ClinicalHistory string    `json:"clinical_history,omitempty"`
	Force           bool      `json:"force_upload,omitempty"` // bypass the duplicate study check
}

type InitResponse struct {
	ID        string    `json:"upload_id"`
	Token     string    `json:"upload_token"`
	ChunkSize int64     `json:"chunk_size"`
	ExpiresAt time.Time `json:"expires_at"`
	Warning   string    `json:"warning,omitempty"`
}

type ChunkRequest struct {
	FileID     string    `json:"file_id"`
	Index      int       `json:"chunk_index"`
	Body       io.Reader `json:"-"`
	ContentMD5 string    `json:"-"` // optional base64 MD5 of the body, from the Content-MD5 header
}

type ChunkResponse struct {
	ID            string      `json:"upload_id"`
	FileID        string      `json:"file_id"`
	Index         int         `json:"chunk_index"`
	ReceivedBytes int64       `json:"received_bytes"`
	Status        ChunkStatus `json:"status"`
}

// FileResult is the outcome of merging and validating one file.
type FileResult struct {
	FileID string     `json:"file_id"`
	Chunks int        `json:"chunks"`
	Study  *StudyInfo `json:"study,omitempty"`
	Error  string     `json:"error,omitempty"`
	Path   string     `json:"-"` // merged file, set on success
}

type CompleteResponse struct {
	ID        string         `json:"upload_id"`
	Status    CompleteStatus `json:"status"`
	Receipt   string         `json:"pacs_receipt_id,omitempty"`
	Processed int            `json:"processed_files"`
	Failed    int            `json:"failed_files"`
	Warnings  []string       `json:"warnings"`
	Files     []FileResult   `json:"files,omitempty"`
}

type FileStatus struct {
	ReceivedChunks []int `json:"received_chunks"`
}

type StatusResponse struct {
	ID             string                `json:"upload_id"`
	State          State                 `json:"state"`
	Progress       float64               `json:"progress_percent"`
	UploadedBytes  int64                 `json:"uploaded_bytes"`
	TotalBytes     int64                 `json:"total_bytes"`
	ChunksReceived int                   `json:"chunks_received"`
	FilesReceived  int                   `json:"files_received"`
	FilesTotal     int                   `json:"files_total"`
	ExpiresAt      time.Time             `json:"expires_at"`
	Files          map[string]FileStatus `json:"files"`
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	StatusSuccess        CompleteStatus = "success"
	StatusPartialSuccess CompleteStatus = "partial_success"
	StatusFailed         CompleteStatus = "failed"
)

const (
	ChunkReceived ChunkStatus = "received"
	ChunkExists   ChunkStatus = "exists"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewStatusResponse returns the progress view of a session.
func NewStatusResponse(s *Session) *StatusResponse {
	resp := &StatusResponse{
		ID:             s.ID,
		State:          s.State,
		Progress:       s.Progress(),
		UploadedBytes:  s.ReceivedBytes,
		TotalBytes:     s.TotalBytes,
		ChunksReceived: s.ChunksReceived(),
		FilesTotal:     s.FileCount,
		ExpiresAt:      s.ExpiresAt,
		Files:          make(map[string]FileStatus, len(s.Files)),
	}
	for _, id := range s.FileIDs() {
		resp.Files[id] = FileStatus{ReceivedChunks: append([]int{}, s.Files[id].Chunks...)}
	}
	resp.FilesReceived = len(resp.Files)
	return resp
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// OK returns true if the file merged and validated.
// PartialReceipt returns true if the receipt records that the archive stored
// only some of the forwarded files
func PartialReceipt(receipt string) bool {
	return strings.HasPrefix(receipt, ReceiptPartialStowPrefix) || strings.HasPrefix(receipt, ReceiptPartialFallbackPrefix)
}

func (r FileResult) OK() bool {
	return r.Error == ""
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (r InitRequest) String() string {
	return types.Stringify(r)
}

func (r InitResponse) String() string {
	return types.Stringify(r)
}

func (r ChunkRequest) String() string {
	return types.Stringify(r)
}

func (r ChunkResponse) String() string {
	return types.Stringify(r)
}

func (r FileResult) String() string {
	return types.Stringify(r)
}

func (r CompleteResponse) String() string {
	return types.Stringify(r)
}

func (r StatusResponse) String() string {
	return types.Stringify(r)
}
