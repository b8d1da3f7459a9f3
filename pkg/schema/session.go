package schema

import (
	"math"
	"slices"
	"time"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// State is the lifecycle state of a live upload session.
type State string

// Session is the durable record of one in-progress multi-file upload.
type Session struct {
	ID              string                `json:"upload_id"`
	Owner           string                `json:"owner"`
	Meta            StudyMeta             `json:"study_metadata"`
	ClinicalHistory string                `json:"clinical_history,omitempty"`
	StudyHash       string                `json:"study_hash,omitempty"`
	FileCount       int                   `json:"total_files"`
	TotalBytes      int64                 `json:"total_size_bytes"`
	ReceivedBytes   int64                 `json:"received_bytes"`
	State           State                 `json:"state"`
	CreatedAt       time.Time             `json:"created_at"`
	ExpiresAt       time.Time             `json:"expires_at"`
	Files           map[string]*FileState `json:"files"`
}

// FileState is the received-so-far state of one file within a session.
// Chunks is kept sorted and free of duplicates.
type FileState struct {
	Chunks    []int          `json:"chunks"`
	Checksums map[int]string `json:"checksums,omitempty"`
	Sizes     map[int]int64  `json:"sizes,omitempty"`
	Complete  bool           `json:"complete,omitempty"`
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	StateInitialized State = "initialized"
	StateReceiving   State = "receiving"
	StateCompleting  State = "completing"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewSession returns a session created at now which expires after ttl.
func NewSession(id, owner string, req InitRequest, now time.Time, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = DefaultUploadTTL
	}
	meta := req.Meta.WithDefaults()
	return &Session{
		ID:              id,
		Owner:           owner,
		Meta:            meta,
		ClinicalHistory: req.ClinicalHistory,
		StudyHash:       meta.Hash(),
		FileCount:       req.TotalFiles,
		TotalBytes:      req.TotalBytes,
		State:           StateInitialized,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		Files:           make(map[string]*FileState),
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Files = make(map[string]*FileState, len(s.Files))
	for id, f := range s.Files {
		c.Files[id] = f.Clone()
	}
	return &c
}

// Expired returns true if the session has expired at the given time.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// HasChunk returns true if the chunk index has been registered for the file.
func (s *Session) HasChunk(fileID string, index int) bool {
	if f, exists := s.Files[fileID]; exists {
		return f.Has(index)
	}
	return false
}

// RegisterChunk records a received chunk. The size is added to ReceivedBytes
// only when the index is new for the file; returns false when the index was
// already registered.
func (s *Session) RegisterChunk(fileID string, index int, size int64, checksum string) bool {
	f, exists := s.Files[fileID]
	if !exists {
		f = new(FileState)
		s.Files[fileID] = f
	}
	if !f.add(index, size, checksum) {
		return false
	}
	s.ReceivedBytes += size
	s.State = StateReceiving
	return true
}

// Progress returns the percentage of declared bytes received, rounded to two
// decimal places and capped at 100.
func (s *Session) Progress() float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	pct := float64(s.ReceivedBytes) / float64(s.TotalBytes) * 100
	return math.Min(100, math.Round(pct*100)/100)
}

// ChunksReceived returns the number of registered chunks across all files.
func (s *Session) ChunksReceived() int {
	var n int
	for _, f := range s.Files {
		n += len(f.Chunks)
	}
	return n
}

// FileIDs returns the identifiers of files which have at least one chunk,
// sorted.
func (s *Session) FileIDs() []string {
	result := make([]string, 0, len(s.Files))
	for id, f := range s.Files {
		if len(f.Chunks) > 0 {
			result = append(result, id)
		}
	}
	slices.Sort(result)
	return result
}

// MarkComplete records that the file has been merged. Returns false if the
// file is unknown.
func (s *Session) MarkComplete(fileID string) bool {
	f, ok := s.Files[fileID]
	if !ok {
		return false
	}
	f.Complete = true
	return true
}

// Clone returns a deep copy of the file state.
func (f *FileState) Clone() *FileState {
	if f == nil {
		return nil
	}
	c := &FileState{
		Chunks:   slices.Clone(f.Chunks),
		Complete: f.Complete,
	}
	if f.Checksums != nil {
		c.Checksums = make(map[int]string, len(f.Checksums))
		for k, v := range f.Checksums {
			c.Checksums[k] = v
		}
	}
	if f.Sizes != nil {
		c.Sizes = make(map[int]int64, len(f.Sizes))
		for k, v := range f.Sizes {
			c.Sizes[k] = v
		}
	}
	return c
}

// Has returns true if the chunk index is registered.
func (f *FileState) Has(index int) bool {
	_, found := slices.BinarySearch(f.Chunks, index)
	return found
}

// Total returns the number of chunks implied by the highest registered index.
func (f *FileState) Total() int {
	if len(f.Chunks) == 0 {
		return 0
	}
	return f.Chunks[len(f.Chunks)-1] + 1
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (s Session) String() string {
	return types.Stringify(s)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (f *FileState) add(index int, size int64, checksum string) bool {
	pos, found := slices.BinarySearch(f.Chunks, index)
	if found {
		return false
	}
	f.Chunks = slices.Insert(f.Chunks, pos, index)
	if checksum != "" {
		if f.Checksums == nil {
			f.Checksums = make(map[int]string)
		}
		f.Checksums[index] = checksum
	}
	if f.Sizes == nil {
		f.Sizes = make(map[int]int64)
	}
	f.Sizes[index] = size
	return true
}
