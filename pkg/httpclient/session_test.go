package httpclient_test

import (
	"bytes"
	"context"
	"testing"

	// Packages
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func initRequest(files int, size int64) schema.InitRequest {
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

func Test_Session_Lifecycle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := newTestServer(t)
	ctx := context.Background()

	session, err := s.Init(ctx, s.accessToken(t), initRequest(1, 100))
	require.NoError(err)
	assert.NotEmpty(session.ID)
	assert.Equal(int64(64), session.ChunkSize)

	// Upload a chunk twice
	for _, status := range []schema.ChunkStatus{schema.ChunkReceived, schema.ChunkExists} {
		resp, err := s.PutChunk(ctx, session.Token, session.ID, schema.ChunkRequest{
			FileID: "f1",
			Index:  0,
			Body:   bytes.NewReader([]byte("hello")),
		})
		require.NoError(err)
		assert.Equal(status, resp.Status)
		assert.Equal(int64(5), resp.ReceivedBytes)
	}

	// Status
	status, err := s.Status(ctx, session.Token, session.ID)
	require.NoError(err)
	assert.Equal(int64(5), status.UploadedBytes)
	assert.Equal([]int{0}, status.Files["f1"].ReceivedChunks)

	// Abort
	aborted, err := s.Abort(ctx, session.Token, session.ID)
	require.NoError(err)
	assert.Equal(session.ID, aborted.ID)
	_, err = s.Status(ctx, session.Token, session.ID)
	assert.Error(err)
}

func Test_Session_Errors(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := newTestServer(t)
	ctx := context.Background()

	// No credential
	_, err := s.Init(ctx, "", initRequest(1, 100))
	assert.Error(err)

	// Credential for another session
	a, err := s.Init(ctx, s.accessToken(t), initRequest(1, 100))
	require.NoError(err)
	b, err := s.Init(ctx, s.accessToken(t), initRequest(1, 100))
	require.NoError(err)
	_, err = s.Status(ctx, a.Token, b.ID)
	assert.Error(err)

	// Bad digest
	_, err = s.PutChunk(ctx, a.Token, a.ID, schema.ChunkRequest{
		FileID:     "f1",
		Body:       bytes.NewReader([]byte("hello")),
		ContentMD5: "1B2M2Y8AsgTpgAmY7PhCfg==",
	})
	assert.Error(err)

	// Incomplete
	_, err = s.Complete(ctx, a.Token, a.ID)
	assert.Error(err)
}

func Test_Session_Report(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := newTestServer(t)
	s.forwarder.reports["1.2.3"] = `{"00080060":{"vr":"CS","Value":["SR"]}}`

	resp, err := s.Report(context.Background(), s.accessToken(t), "1.2.3")
	require.NoError(err)
	assert.True(resp.Available)
	assert.JSONEq(s.forwarder.reports["1.2.3"], string(resp.Content))

	_, err = s.Report(context.Background(), s.accessToken(t), "4.5.6")
	assert.Error(err)
}
