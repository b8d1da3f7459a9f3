package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	otel "github.com/mutablelogic/go-client/pkg/otel"
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Manager owns the live upload sessions. Every mutation goes through Update,
// which serialises writers per session and persists before the change
// becomes visible.
type Manager struct {
	opts
	mu       sync.RWMutex
	sessions map[string]*entry
}

// uploadTTL is implemented by authorities which report the lifetime of
// upload credentials
type uploadTTL interface {
	UploadTTL() time.Duration
}

type entry struct {
	sync.Mutex
	session *schema.Session
	expires time.Time // immutable copy of session.ExpiresAt
	removed bool
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

// errUnchanged is returned by an update function to skip persistence
var errUnchanged = errors.New("unchanged")

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a session manager and recovers persisted sessions from the
// store. Records which cannot be decoded are logged and skipped.
func New(ctx context.Context, opts ...Opt) (*Manager, error) {
	self := new(Manager)

	// Apply options
	if opt, err := applyOpts(opts); err != nil {
		return nil, err
	} else {
		self.opts = opt
	}
	if self.store == nil {
		return nil, httpresponse.ErrInternalError.With("session store is required")
	} else if self.authority == nil {
		return nil, httpresponse.ErrInternalError.With("credential authority is required")
	}
	self.sessions = make(map[string]*entry)

	// Session and credential lifetimes must agree
	if a, ok := self.authority.(uploadTTL); ok {
		if self.ttl == 0 {
			self.ttl = a.UploadTTL()
		} else if self.ttl != a.UploadTTL() {
			return nil, httpresponse.ErrInternalError.Withf("session lifetime %v does not match credential lifetime %v", self.ttl, a.UploadTTL())
		}
	}
	if self.ttl == 0 {
		self.ttl = schema.DefaultUploadTTL
	}

	// Recover sessions
	if err := self.recover(ctx); err != nil {
		return nil, err
	}

	// Return success
	return self, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// ChunkSize returns the chunk size recommended to clients
func (m *Manager) ChunkSize() int64 {
	return m.chunkSize
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Create allocates and persists a new session for the owner, and mints an
// upload credential scoped to it.
func (m *Manager) Create(ctx context.Context, owner string, req schema.InitRequest) (_ *schema.Session, _ *schema.InitResponse, result error) {
	child, endFunc := otel.StartSpan(m.tracer, ctx, spanManagerName("Create"))
	defer func() { endFunc(result) }()

	// Create the session
	session := schema.NewSession(uuid.NewString(), owner, req, m.now(), m.ttl)

	// Mint the scoped credential
	token, _, err := m.authority.MintUpload(session.ID, owner)
	if err != nil {
		return nil, nil, err
	}

	// Persist, then make visible
	if err := m.store.Put(child, session); err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	m.sessions[session.ID] = &entry{session: session, expires: session.ExpiresAt}
	m.mu.Unlock()

	// Return success
	return session.Clone(), &schema.InitResponse{
		ID:        session.ID,
		Token:     token,
		ChunkSize: m.chunkSize,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Get returns a copy of the session
func (m *Manager) Get(id string) (*schema.Session, error) {
	e := m.entry(id)
	if e == nil {
		return nil, httpresponse.ErrNotFound.Withf("upload session %q not found", id)
	}
	e.Lock()
	defer e.Unlock()
	if e.removed {
		return nil, httpresponse.ErrNotFound.Withf("upload session %q not found", id)
	}
	return e.session.Clone(), nil
}

// Update applies fn to a copy of the session, persists the copy and then
// installs it. If fn or persistence fails the session is unchanged. Returns
// a copy of the resulting session.
func (m *Manager) Update(ctx context.Context, id string, fn func(*schema.Session) error) (_ *schema.Session, result error) {
	child, endFunc := otel.StartSpan(m.tracer, ctx, spanManagerName("Update"))
	defer func() { endFunc(result) }()

	e := m.entry(id)
	if e == nil {
		return nil, httpresponse.ErrNotFound.Withf("upload session %q not found", id)
	}

	e.Lock()
	defer e.Unlock()
	if e.removed {
		return nil, httpresponse.ErrNotFound.Withf("upload session %q not found", id)
	}

	// Mutate a copy
	work := e.session.Clone()
	if err := fn(work); errors.Is(err, errUnchanged) {
		return e.session.Clone(), nil
	} else if err != nil {
		return nil, err
	}
	work.ID, work.ExpiresAt, work.CreatedAt = e.session.ID, e.session.ExpiresAt, e.session.CreatedAt

	// Persist then install
	if err := m.store.Put(child, work); err != nil {
		return nil, err
	}
	e.session = work

	// Return a copy
	return work.Clone(), nil
}

// RegisterChunk records a received chunk in the session and persists it.
// Returns false if the index was already registered, in which case nothing
// is written.
func (m *Manager) RegisterChunk(ctx context.Context, id, fileID string, index int, size int64, checksum string) (bool, *schema.Session, error) {
	var added bool
	session, err := m.Update(ctx, id, func(s *schema.Session) error {
		if added = s.RegisterChunk(fileID, index, size, checksum); !added {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return added, session, nil
}

// SetState changes the lifecycle state of the session and persists it.
func (m *Manager) SetState(ctx context.Context, id string, state schema.State) (*schema.Session, error) {
	return m.Update(ctx, id, func(s *schema.Session) error {
		if s.State == state {
			return errUnchanged
		}
		s.State = state
		return nil
	})
}

// Remove deletes the in-memory and persisted session. It is not an error if
// the session does not exist.
func (m *Manager) Remove(ctx context.Context, id string) (result error) {
	child, endFunc := otel.StartSpan(m.tracer, ctx, spanManagerName("Remove"))
	defer func() { endFunc(result) }()

	m.mu.Lock()
	e := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	// Wait for any writer to finish, then mark as removed
	if e != nil {
		e.Lock()
		e.removed = true
		e.Unlock()
	}

	return m.store.Delete(child, id)
}

// Expired returns the ids of sessions which have expired, sorted
func (m *Manager) Expired() []string {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]string, 0)
	for id, e := range m.sessions {
		if e.expires.Before(now) {
			result = append(result, id)
		}
	}
	slices.Sort(result)
	return result
}

// CleanupExpired removes every expired session and its chunks. Sessions are
// selected from a snapshot, so sessions created during the sweep are not
// considered. A session which is completing is skipped, and removed when
// completion finishes. Returns the number of sessions removed.
func (m *Manager) CleanupExpired(ctx context.Context, store relaypacs.ChunkStore) (_ int, result error) {
	child, endFunc := otel.StartSpan(m.tracer, ctx, spanManagerName("CleanupExpired"))
	defer func() { endFunc(result) }()

	var count int
	for _, id := range m.Expired() {
		if removed, err := m.removeExpired(child, store, id); err != nil {
			result = errors.Join(result, err)
		} else if removed {
			count++
		}
	}

	// Return the count and any errors
	return count, result
}

// Run sweeps expired sessions every interval until the context is cancelled.
func (m *Manager) Run(ctx context.Context, store relaypacs.ChunkStore, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := m.CleanupExpired(ctx, store); err != nil {
				m.logf(ctx, "session sweep: %v", err)
			} else if n > 0 {
				m.logf(ctx, "session sweep: removed %d expired session(s)", n)
			}
		}
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (m *Manager) entry(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// removeExpired removes the session and its chunks. The entry lock is held
// throughout, so the state cannot change to completing underneath.
func (m *Manager) removeExpired(ctx context.Context, store relaypacs.ChunkStore, id string) (bool, error) {
	e := m.entry(id)
	if e == nil {
		return false, nil
	}
	e.Lock()
	defer e.Unlock()
	if e.removed || e.session.State == schema.StateCompleting {
		return false, nil
	}

	// Remove chunks, then the record
	if err := store.CleanupUpload(ctx, id); err != nil {
		return false, err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return false, err
	}
	e.removed = true
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	// Return success
	return true, nil
}

func (m *Manager) recover(ctx context.Context) error {
	return m.store.Walk(ctx, func(key string, session *schema.Session, err error) {
		if err != nil {
			m.logf(ctx, "skipping session record %q: %v", key, err)
			return
		}

		// A completion interrupted by a restart never finished, so the
		// session goes back to receiving and the client can complete again
		if session.State == schema.StateCompleting {
			session.State = schema.StateReceiving
			for _, f := range session.Files {
				f.Complete = false
			}
			if err := m.store.Put(ctx, session); err != nil {
				m.logf(ctx, "reset session %q: %v", session.ID, err)
			} else {
				m.logf(ctx, "reset interrupted completion of session %q", session.ID)
			}
		}

		m.mu.Lock()
		m.sessions[session.ID] = &entry{session: session, expires: session.ExpiresAt}
		m.mu.Unlock()
	})
}

func (m *Manager) logf(ctx context.Context, format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(ctx, format, args...)
	}
}

func spanManagerName(op string) string {
	return schema.SchemaName + ".session." + op
}
