package manager_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	// Packages
	dicomtest "github.com/mutablelogic/go-relaypacs/pkg/dicom/dicomtest"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func Test_Complete_Success(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	req := studyRequest(2, 2000)
	id, claims := f.init(t, req)
	first, second := dicomtest.New("1").Bytes(), dicomtest.New("2").Bytes()
	f.upload(t, claims, id, "f1", first, 100)
	f.upload(t, claims, id, "f2", second, 64)

	resp, err := f.Complete(ctx, claims, id)
	require.NoError(err)
	assert.Equal(schema.StatusSuccess, resp.Status)
	assert.Equal(2, resp.Processed)
	assert.Equal(0, resp.Failed)
	assert.Empty(resp.Warnings)
	assert.Equal(schema.ReceiptStowPrefix+"test", resp.Receipt)

	// Merged files were forwarded byte for byte
	require.Len(f.forwarder.calls, 1)
	assert.Len(f.forwarder.calls[0], 2)
	assert.Equal([][]byte{first, second}, f.forwarder.content)
	assert.Equal(dicomtest.New("1").StudyInstanceUID, resp.Files[0].Study.StudyInstanceUID)

	// Chunks and session are gone
	exists, err := f.store.ChunkExists(ctx, id, "f1", 0)
	require.NoError(err)
	assert.False(exists)
	_, err = f.sessions.Get(id)
	assert.ErrorIs(err, httpresponse.ErrNotFound)

	// The study is recorded, so uploading it again is a duplicate
	seen, err := f.registry.Seen(ctx, req.Meta.Hash(), f.clock.Now().Add(-1))
	require.NoError(err)
	require.NotNil(seen)
	assert.Equal(id, seen.UploadID)
	_, err = f.Init(ctx, "alice", req)
	assert.ErrorIs(err, httpresponse.ErrConflict)

	// Notified
	require.NoError(f.Close())
	require.Len(f.notifier.events, 1)
	assert.Equal(schema.UploadCompleteEvent, f.notifier.events[0].Type)
	assert.Equal(id, f.notifier.events[0].UploadID)
	assert.Len(f.notifier.events[0].Studies, 2)
}

func Test_Complete_Corrupt(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	id, claims := f.init(t, studyRequest(2, 2000))
	f.upload(t, claims, id, "good", dicomtest.New("1").Bytes(), 100)
	f.upload(t, claims, id, "bad", []byte("this is definitely not a dicom file, just some text"), 16)

	resp, err := f.Complete(ctx, claims, id)
	require.NoError(err)
	assert.Equal(schema.StatusPartialSuccess, resp.Status)
	assert.Equal(1, resp.Processed)
	assert.Equal(1, resp.Failed)
	assert.NotEmpty(resp.Receipt)
	if assert.Len(resp.Warnings, 1) {
		assert.Contains(resp.Warnings[0], "File bad failed")
		assert.LessOrEqual(len(resp.Warnings[0]), 203)
	}

	// Only the valid file was forwarded
	require.Len(f.forwarder.calls, 1)
	assert.Len(f.forwarder.calls[0], 1)
}

func Test_Complete_AllFailed(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	id, claims := f.init(t, studyRequest(1, 100))
	f.upload(t, claims, id, "f1", []byte("garbage garbage garbage"), 8)

	resp, err := f.Complete(ctx, claims, id)
	require.NoError(err)
	assert.Equal(schema.StatusFailed, resp.Status)
	assert.Equal(0, resp.Processed)
	assert.Equal(1, resp.Failed)
	assert.Empty(resp.Receipt)
	assert.Empty(f.forwarder.calls)

	// A failed upload cannot be completed again
	_, err = f.Complete(ctx, claims, id)
	assert.ErrorIs(err, httpresponse.ErrNotFound)

	require.NoError(f.Close())
	require.Len(f.notifier.events, 1)
	assert.Equal(schema.UploadFailedEvent, f.notifier.events[0].Type)
}

func Test_Complete_ForwardingDown(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	f.forwarder.err = errDown
	ctx := context.Background()

	req := studyRequest(1, 1000)
	id, claims := f.init(t, req)
	f.upload(t, claims, id, "f1", dicomtest.New("1").Bytes(), 100)

	resp, err := f.Complete(ctx, claims, id)
	require.NoError(err)
	assert.Equal(schema.StatusPartialSuccess, resp.Status)
	assert.Equal(1, resp.Processed)
	assert.Equal(0, resp.Failed)
	assert.Empty(resp.Receipt)
	if assert.Len(resp.Warnings, 1) {
		assert.Contains(resp.Warnings[0], "PACS forwarding failed")
	}

	// Not recorded, so the study can be uploaded again
	seen, err := f.registry.Seen(ctx, req.Meta.Hash(), f.clock.Now().Add(-1))
	require.NoError(err)
	assert.Nil(seen)
	_, err = f.sessions.Get(id)
	assert.ErrorIs(err, httpresponse.ErrNotFound)
}

func Test_Complete_PartialReceipt(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	f.forwarder.receipt = schema.ReceiptPartialStowPrefix + "1/2"
	ctx := context.Background()

	id, claims := f.init(t, studyRequest(2, 2000))
	f.upload(t, claims, id, "f1", dicomtest.New("1").Bytes(), 100)
	f.upload(t, claims, id, "f2", dicomtest.New("2").Bytes(), 100)

	resp, err := f.Complete(ctx, claims, id)
	require.NoError(err)
	assert.Equal(schema.StatusPartialSuccess, resp.Status)
	assert.Equal(2, resp.Processed)
	assert.Equal("PARTIAL-STOW-SUCCESS-1/2", resp.Receipt)
	if assert.Len(resp.Warnings, 1) {
		assert.Contains(resp.Warnings[0], "PACS stored only some files")
	}
}

func Test_Complete_MissingChunk(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	id, claims := f.init(t, studyRequest(1, 100))
	for _, i := range []int{0, 2} {
		_, err := f.PutChunk(ctx, claims, id, chunk("f1", i, "data"))
		require.NoError(err)
	}

	resp, err := f.Complete(ctx, claims, id)
	require.NoError(err)
	assert.Equal(schema.StatusFailed, resp.Status)
	if assert.Len(resp.Files, 1) {
		assert.Equal(3, resp.Files[0].Chunks)
		assert.Contains(resp.Files[0].Error, schema.ErrMissingChunk.Error())
	}
}

func Test_Complete_ChecksumMismatch(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	id, claims := f.init(t, studyRequest(1, 1000))
	data := dicomtest.New("1").Bytes()
	f.upload(t, claims, id, "f1", data, 100)

	// Flip a byte in a stored chunk, keeping its size
	stored, err := f.store.ReadChunk(ctx, id, "f1", 1)
	require.NoError(err)
	stored[0] ^= 0xFF
	_, err = f.store.SaveChunk(ctx, id, "f1", 1, stored)
	require.NoError(err)

	resp, err := f.Complete(ctx, claims, id)
	require.NoError(err)
	assert.Equal(schema.StatusFailed, resp.Status)
	if assert.Len(resp.Files, 1) {
		assert.Contains(resp.Files[0].Error, schema.ErrChecksumMismatch.Error())
	}
}

func Test_Complete_Incomplete(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	id, claims := f.init(t, studyRequest(2, 1000))
	f.upload(t, claims, id, "f1", dicomtest.New("1").Bytes(), 100)

	_, err := f.Complete(ctx, claims, id)
	assert.ErrorIs(err, httpresponse.ErrBadRequest)
	assert.ErrorContains(err, "received 1 files, expected 2")

	// The session survives, and can be completed once the second file arrives
	f.upload(t, claims, id, "f2", dicomtest.New("2").Bytes(), 100)
	resp, err := f.Complete(ctx, claims, id)
	require.NoError(err)
	assert.Equal(schema.StatusSuccess, resp.Status)
}

func Test_Complete_Concurrency(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	const files = 9
	id, claims := f.init(t, studyRequest(files, 100000))
	for i := 0; i < files; i++ {
		instance := dicomtest.New(string(rune('a' + i)))
		f.upload(t, claims, id, "file"+string(rune('a'+i)), instance.Bytes(), 50)
	}

	resp, err := f.Complete(ctx, claims, id)
	require.NoError(err)
	assert.Equal(schema.StatusSuccess, resp.Status)
	assert.Equal(files, resp.Processed)

	// Results are in file order
	for i, r := range resp.Files {
		assert.Equal("file"+string(rune('a'+i)), r.FileID)
	}
}

func Test_Complete_SweepDuringForward(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.forwarder.entered = make(chan struct{}, 1)
	f.forwarder.gate = make(chan struct{})

	id, claims := f.init(t, studyRequest(1, 1000))
	data := dicomtest.New("1").Bytes()
	f.upload(t, claims, id, "f1", data, 100)

	type result struct {
		resp *schema.CompleteResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := f.Complete(ctx, claims, id)
		done <- result{resp, err}
	}()
	<-f.forwarder.entered

	// The merged file is marked while forwarding is in progress
	s, err := f.sessions.Get(id)
	require.NoError(err)
	assert.Equal(schema.StateCompleting, s.State)
	assert.True(s.Files["f1"].Complete)

	// The session expires mid-forward but the sweep leaves it alone
	f.clock.Advance(time.Hour)
	n, err := f.Sweep(ctx)
	require.NoError(err)
	assert.Equal(0, n)

	close(f.forwarder.gate)
	r := <-done
	require.NoError(r.err)
	assert.Equal(schema.StatusSuccess, r.resp.Status)
	assert.Empty(r.resp.Warnings)
	assert.Equal([][]byte{data}, f.forwarder.content)

	// Completion removed the session itself
	_, err = f.sessions.Get(id)
	assert.ErrorIs(err, httpresponse.ErrNotFound)
}

func Test_Complete_AfterRestart(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	id, claims := f.init(t, studyRequest(1, 1000))
	data := dicomtest.New("1").Bytes()
	f.upload(t, claims, id, "f1", data, 100)

	// The process stops after completion has claimed the session
	_, err := f.sessions.SetState(ctx, id, schema.StateCompleting)
	require.NoError(err)
	require.NoError(f.Close())
	f.open(t)

	// The client can still resend a chunk and complete
	_, err = f.PutChunk(ctx, claims, id, schema.ChunkRequest{
		FileID: "f1",
		Index:  0,
		Body:   bytes.NewReader(data[:100]),
	})
	require.NoError(err)
	resp, err := f.Complete(ctx, claims, id)
	require.NoError(err)
	assert.Equal(schema.StatusSuccess, resp.Status)
	assert.Equal([][]byte{data}, f.forwarder.content)
}

func Test_Abort_AfterRestart(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	id, claims := f.init(t, studyRequest(1, 1000))
	f.upload(t, claims, id, "f1", []byte("some data"), 4)
	_, err := f.sessions.SetState(ctx, id, schema.StateCompleting)
	require.NoError(err)
	require.NoError(f.Close())
	f.open(t)

	status, err := f.Abort(ctx, claims, id)
	require.NoError(err)
	assert.Equal(int64(9), status.UploadedBytes)
	_, err = f.Status(ctx, claims, id)
	assert.ErrorIs(err, httpresponse.ErrNotFound)
}
