package manager_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	// Packages
	auth "github.com/mutablelogic/go-relaypacs/pkg/auth"
	chunkstore "github.com/mutablelogic/go-relaypacs/pkg/chunkstore"
	dicom "github.com/mutablelogic/go-relaypacs/pkg/dicom"
	manager "github.com/mutablelogic/go-relaypacs/pkg/manager"
	registry "github.com/mutablelogic/go-relaypacs/pkg/registry"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	session "github.com/mutablelogic/go-relaypacs/pkg/session"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	blob "gocloud.dev/blob"
	memblob "gocloud.dev/blob/memblob"
)

////////////////////////////////////////////////////////////////////////////////
// FIXTURES

const testSecret = "0123456789abcdef0123456789abcdef"

// forwarder records what it was asked to forward
type forwarder struct {
	sync.Mutex
	calls   [][]string
	content [][]byte
	err     error
	receipt string
	reports map[string][]byte

	// When set, Forward signals entered and then waits for gate to close
	entered chan struct{}
	gate    chan struct{}
}

func (f *forwarder) Forward(_ context.Context, paths []string) (string, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.Lock()
	defer f.Unlock()
	f.calls = append(f.calls, paths)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		f.content = append(f.content, data)
	}
	if f.err != nil {
		return "", f.err
	} else if f.receipt != "" {
		return f.receipt, nil
	}
	return schema.ReceiptStowPrefix + "test", nil
}

func (f *forwarder) CheckForReport(_ context.Context, studyUID string) bool {
	_, ok := f.reports[studyUID]
	return ok
}

func (f *forwarder) RetrieveReportContent(_ context.Context, studyUID string) ([]byte, bool) {
	data, ok := f.reports[studyUID]
	return data, ok
}

// notifier records events
type notifier struct {
	sync.Mutex
	events []schema.Event
}

func (n *notifier) Notify(_ context.Context, event schema.Event) error {
	n.Lock()
	defer n.Unlock()
	n.events = append(n.events, event)
	return nil
}

type clock struct {
	sync.Mutex
	t time.Time
}

func (c *clock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.Lock()
	defer c.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	*manager.Manager
	bucket    *blob.Bucket
	validator *dicom.Validator
	opts      []manager.Opt
	sessions  *session.Manager
	store     *chunkstore.Store
	authority *auth.Authority
	forwarder *forwarder
	registry  *registry.Memory
	notifier  *notifier
	clock     *clock
}

func newFixture(t *testing.T, opts ...manager.Opt) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		forwarder: &forwarder{reports: map[string][]byte{}},
		registry:  registry.NewMemory(),
		notifier:  new(notifier),
		clock:     &clock{t: time.Now()},
	}

	var err error
	f.authority, err = auth.New(testSecret)
	require.NoError(t, err)
	f.store, err = chunkstore.New(ctx, "mem://chunks", chunkstore.WithScratchDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { f.store.Close() })
	f.validator, err = dicom.New()
	require.NoError(t, err)
	f.bucket = memblob.OpenBucket(nil)
	f.opts = opts
	f.open(t)
	return f
}

// open creates the session manager and orchestrator on the fixture's bucket
// and chunk store. Calling it again simulates a restart.
func (f *fixture) open(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	var err error
	f.sessions, err = session.New(ctx,
		session.WithStore(session.NewStore(f.bucket, session.DefaultPrefix)),
		session.WithAuthority(f.authority),
		session.WithChunkSize(4),
		session.WithClock(f.clock.Now),
	)
	require.NoError(t, err)
	f.Manager, err = manager.New(ctx, append([]manager.Opt{
		manager.WithChunkStore(f.store),
		manager.WithSessions(f.sessions),
		manager.WithValidator(f.validator),
		manager.WithForwarder(f.forwarder),
		manager.WithRegistry(f.registry, time.Hour),
		manager.WithNotifier(f.notifier),
		manager.WithClock(f.clock.Now),
		manager.WithMaxChunkSize(1024),
	}, f.opts...)...)
	require.NoError(t, err)
}

func studyRequest(files int, size int64) schema.InitRequest {
	return schema.InitRequest{
		Meta: schema.StudyMeta{
			PatientName: "Doe^Jane",
			StudyDate:   "20240101",
			Modality:    "CT",
		},
		TotalFiles: files,
		TotalBytes: size,
	}
}

// init creates a session and returns its id and upload claims
func (f *fixture) init(t *testing.T, req schema.InitRequest) (string, *schema.Claims) {
	t.Helper()
	resp, err := f.Init(context.Background(), "alice", req)
	require.NoError(t, err)
	claims, err := f.authority.Verify(resp.Token, schema.TokenUpload)
	require.NoError(t, err)
	return resp.ID, claims
}

// upload sends data as chunks of the given size
func (f *fixture) upload(t *testing.T, claims *schema.Claims, id, fileID string, data []byte, size int) {
	t.Helper()
	for i := 0; i*size < len(data); i++ {
		end := min((i+1)*size, len(data))
		resp, err := f.PutChunk(context.Background(), claims, id, schema.ChunkRequest{
			FileID: fileID,
			Index:  i,
			Body:   bytes.NewReader(data[i*size : end]),
		})
		require.NoError(t, err)
		require.Equal(t, schema.ChunkReceived, resp.Status)
	}
}

func chunk(fileID string, index int, data string) schema.ChunkRequest {
	return schema.ChunkRequest{FileID: fileID, Index: index, Body: bytes.NewReader([]byte(data))}
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE TESTS

func Test_Manager_New(t *testing.T) {
	assert := assert.New(t)

	_, err := manager.New(context.TODO())
	assert.Error(err)

	_, err = manager.New(context.TODO(), manager.WithMergeConcurrency(0))
	assert.Error(err)

	_, err = manager.New(context.TODO(), manager.WithRegistry(registry.NewMemory(), 0))
	assert.Error(err)
}

////////////////////////////////////////////////////////////////////////////////
// INIT TESTS

func Test_Manager_Init(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, manager.WithMaxUploadSize(1000))
	ctx := context.Background()

	t.Run("NoFiles", func(t *testing.T) {
		_, err := f.Init(ctx, "alice", studyRequest(0, 10))
		assert.ErrorIs(err, httpresponse.ErrBadRequest)
	})

	t.Run("NoBytes", func(t *testing.T) {
		_, err := f.Init(ctx, "alice", studyRequest(1, 0))
		assert.ErrorIs(err, httpresponse.ErrBadRequest)
	})

	t.Run("TooLarge", func(t *testing.T) {
		_, err := f.Init(ctx, "alice", studyRequest(1, 1001))
		assert.ErrorIs(err, httpresponse.ErrBadRequest)
		assert.Equal(0, f.sessions.Len())
	})

	t.Run("OK", func(t *testing.T) {
		resp, err := f.Init(ctx, "alice", studyRequest(1, 1000))
		if assert.NoError(err) {
			assert.NotEmpty(resp.ID)
			assert.NotEmpty(resp.Token)
			assert.Equal(int64(4), resp.ChunkSize)
			assert.Empty(resp.Warning)
		}
	})
}

func Test_Manager_Duplicate(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	req := studyRequest(1, 10)
	require.NoError(f.registry.Record(ctx, schema.StudyRecord{
		UploadID:  "earlier",
		Hash:      req.Meta.Hash(),
		CreatedAt: f.clock.Now().Add(-10 * time.Minute),
	}))

	// Same study within the window
	_, err := f.Init(ctx, "alice", req)
	assert.ErrorIs(err, httpresponse.ErrConflict)
	assert.ErrorContains(err, schema.ReasonDuplicateStudy)

	// Normalised metadata is the same study
	same := req
	same.Meta.PatientName = "  DOE^JANE "
	_, err = f.Init(ctx, "alice", same)
	assert.ErrorIs(err, httpresponse.ErrConflict)

	// Forced
	forced := req
	forced.Force = true
	resp, err := f.Init(ctx, "alice", forced)
	require.NoError(err)
	assert.Contains(resp.Warning, schema.ReasonDuplicateStudy)

	// Another study
	other := req
	other.Meta.Modality = "MR"
	_, err = f.Init(ctx, "alice", other)
	assert.NoError(err)

	// No identifying metadata
	anonymous := req
	anonymous.Meta = schema.StudyMeta{}
	_, err = f.Init(ctx, "alice", anonymous)
	assert.NoError(err)

	// Outside the window
	f.clock.Advance(time.Hour)
	_, err = f.Init(ctx, "alice", req)
	assert.NoError(err)
}

func Test_Manager_InitSweeps(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	id, _ := f.init(t, studyRequest(1, 10))
	f.clock.Advance(schema.DefaultUploadTTL + time.Minute)
	f.init(t, studyRequest(1, 20))

	_, err := f.sessions.Get(id)
	assert.ErrorIs(err, httpresponse.ErrNotFound)
	assert.Equal(1, f.sessions.Len())
}

////////////////////////////////////////////////////////////////////////////////
// CHUNK TESTS

func Test_Manager_ChunkIdempotent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	id, claims := f.init(t, studyRequest(1, 100))

	resp, err := f.PutChunk(ctx, claims, id, chunk("f1", 0, "abcd"))
	require.NoError(err)
	assert.Equal(schema.ChunkReceived, resp.Status)
	assert.Equal(int64(4), resp.ReceivedBytes)

	// Replay does not write or count twice
	resp, err = f.PutChunk(ctx, claims, id, chunk("f1", 0, "zzzz"))
	require.NoError(err)
	assert.Equal(schema.ChunkExists, resp.Status)
	data, err := f.store.ReadChunk(ctx, id, "f1", 0)
	require.NoError(err)
	assert.Equal("abcd", string(data))

	status, err := f.Status(ctx, claims, id)
	require.NoError(err)
	assert.Equal(int64(4), status.UploadedBytes)
	assert.Equal(1, status.ChunksReceived)
	assert.Equal(float64(4), status.Progress)
}

func Test_Manager_ChunkReconcile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	id, claims := f.init(t, studyRequest(1, 100))

	// Stored, but the process stopped before registration
	_, err := f.store.SaveChunk(ctx, id, "f1", 2, []byte("stored"))
	require.NoError(err)

	resp, err := f.PutChunk(ctx, claims, id, chunk("f1", 2, "resent"))
	require.NoError(err)
	assert.Equal(int64(6), resp.ReceivedBytes)

	// Registered from the stored bytes, which were not rewritten
	s, err := f.sessions.Get(id)
	require.NoError(err)
	assert.Equal([]int{2}, s.Files["f1"].Chunks)
	assert.Equal(chunkstore.Checksum([]byte("stored")), s.Files["f1"].Checksums[2])
	data, err := f.store.ReadChunk(ctx, id, "f1", 2)
	require.NoError(err)
	assert.Equal("stored", string(data))
}

func Test_Manager_ChunkRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, claims := f.init(t, studyRequest(1, 100))

	tests := []struct {
		name string
		req  schema.ChunkRequest
		err  error
	}{
		{"Empty", chunk("f1", 0, ""), httpresponse.ErrBadRequest},
		{"NilBody", schema.ChunkRequest{FileID: "f1"}, httpresponse.ErrBadRequest},
		{"NegativeIndex", chunk("f1", -1, "x"), httpresponse.ErrBadRequest},
		{"BadFileID", chunk("../f1", 0, "x"), httpresponse.ErrBadRequest},
		{"TooLarge", chunk("f1", 0, string(make([]byte, 1025))), httpresponse.Err(http.StatusRequestEntityTooLarge)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := f.PutChunk(ctx, claims, id, test.req)
			assert.ErrorIs(t, err, test.err)
		})
	}

	// Nothing was registered
	s, err := f.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.ReceivedBytes)
}

func Test_Manager_ChunkContentMD5(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	id, claims := f.init(t, studyRequest(1, 100))

	digest := md5.Sum([]byte("data"))

	req := chunk("f1", 0, "data")
	req.ContentMD5 = base64.StdEncoding.EncodeToString(digest[:])
	_, err := f.PutChunk(ctx, claims, id, req)
	assert.NoError(err)

	req = chunk("f1", 1, "data")
	req.ContentMD5 = chunkstore.Checksum([]byte("data"))
	_, err = f.PutChunk(ctx, claims, id, req)
	assert.NoError(err)

	req = chunk("f1", 2, "dat4")
	req.ContentMD5 = base64.StdEncoding.EncodeToString(digest[:])
	_, err = f.PutChunk(ctx, claims, id, req)
	assert.ErrorIs(err, httpresponse.ErrBadRequest)
	exists, err := f.store.ChunkExists(ctx, id, "f1", 2)
	assert.NoError(err)
	assert.False(exists)

	req = chunk("f1", 3, "data")
	req.ContentMD5 = "not-a-digest"
	_, err = f.PutChunk(ctx, claims, id, req)
	assert.ErrorIs(err, httpresponse.ErrBadRequest)
}

func Test_Manager_Scope(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	a, claimsA := f.init(t, studyRequest(1, 100))
	b, _ := f.init(t, studyRequest(1, 100))

	_, err := f.PutChunk(ctx, claimsA, b, chunk("f1", 0, "data"))
	assert.ErrorIs(err, httpresponse.ErrForbidden)
	_, err = f.Status(ctx, claimsA, b)
	assert.ErrorIs(err, httpresponse.ErrForbidden)
	_, err = f.Complete(ctx, claimsA, b)
	assert.ErrorIs(err, httpresponse.ErrForbidden)
	_, err = f.Abort(ctx, claimsA, b)
	assert.ErrorIs(err, httpresponse.ErrForbidden)
	_, err = f.PutChunk(ctx, nil, a, chunk("f1", 0, "data"))
	assert.ErrorIs(err, httpresponse.ErrForbidden)

	// An access credential is not scoped to any session
	_, err = f.Status(ctx, &schema.Claims{Kind: schema.TokenAccess, Subject: a}, a)
	assert.ErrorIs(err, httpresponse.ErrForbidden)

	// Session b is untouched
	_, err = f.sessions.Get(b)
	assert.NoError(err)
}

func Test_Manager_Expired(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	id, claims := f.init(t, studyRequest(1, 100))

	f.clock.Advance(schema.DefaultUploadTTL + time.Second)
	_, err := f.PutChunk(ctx, claims, id, chunk("f1", 0, "data"))
	assert.ErrorIs(err, httpresponse.Err(http.StatusGone))

	// The sweep removes it
	n, err := f.Sweep(ctx)
	assert.NoError(err)
	assert.Equal(1, n)
	_, err = f.Status(ctx, claims, id)
	assert.ErrorIs(err, httpresponse.ErrNotFound)
}

func Test_Manager_Unknown(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	claims := &schema.Claims{Kind: schema.TokenUpload, Subject: "missing"}

	_, err := f.PutChunk(context.Background(), claims, "missing", chunk("f1", 0, "data"))
	assert.ErrorIs(err, httpresponse.ErrNotFound)
	_, err = f.Abort(context.Background(), claims, "missing")
	assert.ErrorIs(err, httpresponse.ErrNotFound)
}

func Test_Manager_Abort(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	id, claims := f.init(t, studyRequest(1, 100))
	f.upload(t, claims, id, "f1", []byte("some data"), 4)

	status, err := f.Abort(ctx, claims, id)
	require.NoError(err)
	assert.Equal(int64(9), status.UploadedBytes)

	exists, err := f.store.ChunkExists(ctx, id, "f1", 0)
	require.NoError(err)
	assert.False(exists)
	_, err = f.Status(ctx, claims, id)
	assert.ErrorIs(err, httpresponse.ErrNotFound)
}

////////////////////////////////////////////////////////////////////////////////
// REPORT TESTS

func Test_Manager_Report(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.forwarder.reports["1.2.3"] = []byte(`[{}]`)

	report, err := f.Report(context.Background(), "1.2.3")
	if assert.NoError(err) {
		assert.True(report.Available)
		assert.JSONEq(`[{}]`, string(report.Content))
	}

	_, err = f.Report(context.Background(), "4.5.6")
	assert.ErrorIs(err, httpresponse.ErrNotFound)
	_, err = f.Report(context.Background(), "")
	assert.ErrorIs(err, httpresponse.ErrBadRequest)
}

// errDown stands in for an unreachable PACS
var errDown = errors.New("dial tcp: connection refused")
