package registry

import (
	"context"
	"sync"
	"time"

	// Packages
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Memory is a process-local registry, used when no database is configured
type Memory struct {
	sync.Mutex
	records []schema.StudyRecord
}

var _ relaypacs.Registry = (*Memory)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func NewMemory() *Memory {
	return new(Memory)
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Seen returns the most recent record for the hash created at or after since,
// or nil if there is none
func (m *Memory) Seen(_ context.Context, hash string, since time.Time) (*schema.StudyRecord, error) {
	m.Lock()
	defer m.Unlock()

	var result *schema.StudyRecord
	for i := range m.records {
		r := m.records[i]
		if r.Hash != hash || r.CreatedAt.Before(since) {
			continue
		}
		if result == nil || r.CreatedAt.After(result.CreatedAt) {
			result = &r
		}
	}
	return result, nil
}

// Record stores the study hash for an upload
func (m *Memory) Record(_ context.Context, record schema.StudyRecord) error {
	if record.Hash == "" || record.UploadID == "" {
		return httpresponse.ErrBadRequest.With("study record requires an upload id and hash")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	m.Lock()
	defer m.Unlock()
	m.records = append(m.records, record)
	return nil
}
