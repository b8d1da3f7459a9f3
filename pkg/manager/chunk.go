package manager

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	// Packages
	otel "github.com/mutablelogic/go-client/pkg/otel"
	chunkstore "github.com/mutablelogic/go-relaypacs/pkg/chunkstore"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// PutChunk stores one chunk of a file. Replaying a chunk which is already
// stored and registered returns an "exists" status without writing. A chunk
// which is stored but not registered is registered from the stored bytes.
func (manager *Manager) PutChunk(ctx context.Context, claims *schema.Claims, id string, req schema.ChunkRequest) (_ *schema.ChunkResponse, result error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("PutChunk"))
	defer func() { endFunc(result) }()

	if req.Index < 0 {
		return nil, httpresponse.ErrBadRequest.Withf("invalid chunk index %d", req.Index)
	} else if err := chunkstore.ValidateID("file", req.FileID); err != nil {
		return nil, err
	}
	session, err := manager.session(claims, id)
	if err != nil {
		return nil, err
	} else if session.State == schema.StateCompleting {
		return nil, httpresponse.ErrConflict.Withf("upload %q is completing", id)
	}

	// Idempotent replay and crash reconciliation
	exists, err := manager.store.ChunkExists(child, id, req.FileID, req.Index)
	if err != nil {
		return nil, err
	}
	if exists {
		if session.HasChunk(req.FileID, req.Index) {
			return &schema.ChunkResponse{
				ID:            id,
				FileID:        req.FileID,
				Index:         req.Index,
				ReceivedBytes: session.Files[req.FileID].Sizes[req.Index],
				Status:        schema.ChunkExists,
			}, nil
		}
		if resp, err := manager.reconcile(child, id, req); err != nil {
			return nil, err
		} else if resp != nil {
			return resp, nil
		}
	}

	// Read the body
	if req.Body == nil {
		return nil, httpresponse.ErrBadRequest.With("empty chunk body")
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, manager.maxChunkSize+1))
	if err != nil {
		return nil, httpresponse.ErrBadRequest.Withf("reading chunk body: %v", err)
	} else if len(data) == 0 {
		return nil, httpresponse.ErrBadRequest.With("empty chunk body")
	} else if int64(len(data)) > manager.maxChunkSize {
		return nil, httpresponse.Err(http.StatusRequestEntityTooLarge).Withf("chunk exceeds the maximum size of %d bytes", manager.maxChunkSize)
	}

	// Check the client digest
	checksum := chunkstore.Checksum(data)
	if req.ContentMD5 != "" {
		if expected, err := decodeMD5(req.ContentMD5); err != nil {
			return nil, err
		} else if expected != checksum {
			return nil, httpresponse.ErrBadRequest.Withf("%s mismatch for chunk %d of file %q", schema.ContentMD5Header, req.Index, req.FileID)
		}
	}

	// Write and verify
	if _, err := manager.store.SaveChunk(child, id, req.FileID, req.Index, data); err != nil {
		return nil, err
	}
	if ok, err := manager.store.VerifyChunk(child, id, req.FileID, req.Index, int64(len(data))); err != nil || !ok {
		if err := manager.store.DeleteChunk(child, id, req.FileID, req.Index); err != nil {
			manager.logf(child, "delete unverified chunk %d of file %q: %v", req.Index, req.FileID, err)
		}
		return nil, httpresponse.ErrInternalError.Withf("chunk %d of file %q failed verification, retry the chunk", req.Index, req.FileID)
	}

	// Register
	return manager.register(child, id, req, int64(len(data)), checksum)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// reconcile registers a stored chunk without rewriting it. Returns nil if
// the stored chunk is empty and should be written again.
func (manager *Manager) reconcile(ctx context.Context, id string, req schema.ChunkRequest) (*schema.ChunkResponse, error) {
	data, err := manager.store.ReadChunk(ctx, id, req.FileID, req.Index)
	if isNotFound(err) || (err == nil && len(data) == 0) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	manager.logf(ctx, "registering stored chunk %d of file %q for upload %s", req.Index, req.FileID, id)
	return manager.register(ctx, id, req, int64(len(data)), chunkstore.Checksum(data))
}

func (manager *Manager) register(ctx context.Context, id string, req schema.ChunkRequest, size int64, checksum string) (*schema.ChunkResponse, error) {
	added, _, err := manager.sessions.RegisterChunk(ctx, id, req.FileID, req.Index, size, checksum)
	if isNotFound(err) {
		// The session was removed while the chunk was written
		manager.store.DeleteChunk(ctx, id, req.FileID, req.Index)
		return nil, err
	} else if err != nil {
		return nil, err
	}

	status := schema.ChunkReceived
	if added {
		manager.chunks.Add(ctx, 1)
		manager.bytes.Add(ctx, size)
	} else {
		status = schema.ChunkExists
	}
	return &schema.ChunkResponse{
		ID:            id,
		FileID:        req.FileID,
		Index:         req.Index,
		ReceivedBytes: size,
		Status:        status,
	}, nil
}

// decodeMD5 accepts a base64 digest as sent in a Content-MD5 header, or a
// hex digest, and returns it as hex
func decodeMD5(value string) (string, error) {
	value = strings.TrimSpace(value)
	if len(value) == 32 {
		if _, err := hex.DecodeString(value); err == nil {
			return strings.ToLower(value), nil
		}
	}
	if digest, err := base64.StdEncoding.DecodeString(value); err == nil && len(digest) == 16 {
		return hex.EncodeToString(digest), nil
	}
	return "", httpresponse.ErrBadRequest.Withf("invalid %s header %q", schema.ContentMD5Header, value)
}
