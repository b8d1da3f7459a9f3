package manager

import (
	"context"
	"fmt"

	// Packages
	otel "github.com/mutablelogic/go-client/pkg/otel"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	attribute "go.opentelemetry.io/otel/attribute"
	metric "go.opentelemetry.io/otel/metric"
	errgroup "golang.org/x/sync/errgroup"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Complete merges and validates every file, forwards the valid ones to the
// PACS, and removes the session. A file which fails is reported in the
// response rather than as an error. Once completion starts the session is
// always removed, whatever the outcome.
func (manager *Manager) Complete(ctx context.Context, claims *schema.Claims, id string) (_ *schema.CompleteResponse, result error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("Complete"))
	defer func() { endFunc(result) }()

	session, err := manager.session(claims, id)
	if err != nil {
		return nil, err
	}

	// Every declared file must have at least one chunk
	files := session.FileIDs()
	if len(files) < session.FileCount {
		return nil, httpresponse.ErrBadRequest.Withf("upload incomplete: received %d files, expected %d", len(files), session.FileCount)
	}

	// Claim the session, so concurrent requests are rejected
	session, err = manager.sessions.Update(child, id, func(s *schema.Session) error {
		if s.State == schema.StateCompleting {
			return httpresponse.ErrConflict.Withf("upload %q is already completing", id)
		}
		s.State = schema.StateCompleting
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer manager.release(child, id)

	// Merge and validate files concurrently
	results := make([]schema.FileResult, len(files))
	var g errgroup.Group
	g.SetLimit(manager.mergeConcurrency)
	for i, fileID := range files {
		g.Go(func() error {
			results[i] = manager.processFile(child, session, fileID)
			return nil
		})
	}
	g.Wait()

	// Collect results
	resp := &schema.CompleteResponse{
		ID:       id,
		Warnings: []string{},
		Files:    results,
	}
	paths := make([]string, 0, len(results))
	for _, r := range results {
		if r.OK() {
			resp.Processed++
			paths = append(paths, r.Path)
		} else {
			resp.Failed++
			resp.Warnings = append(resp.Warnings, truncate(fmt.Sprintf("File %s failed: %s", r.FileID, r.Error)))
		}
	}

	// Forward the valid files
	if len(paths) > 0 {
		if receipt, err := manager.forwarder.Forward(child, paths); err != nil {
			manager.logf(child, "forward upload %s: %v", id, err)
			resp.Warnings = append(resp.Warnings, truncate("PACS forwarding failed: "+err.Error()))
		} else {
			resp.Receipt = receipt
			if schema.PartialReceipt(receipt) {
				resp.Warnings = append(resp.Warnings, truncate("PACS stored only some files: "+receipt))
			}
		}
	}

	// Set the status
	switch {
	case resp.Processed == 0:
		resp.Status = schema.StatusFailed
	case resp.Failed > 0 || resp.Receipt == "" || schema.PartialReceipt(resp.Receipt):
		resp.Status = schema.StatusPartialSuccess
	default:
		resp.Status = schema.StatusSuccess
	}
	manager.uploads.Add(child, 1, metric.WithAttributes(attribute.String("status", string(resp.Status))))

	// Record the study once it has reached the PACS
	if resp.Receipt != "" && manager.registry != nil && session.StudyHash != "" {
		if err := manager.registry.Record(child, schema.StudyRecord{
			UploadID:  id,
			Hash:      session.StudyHash,
			Owner:     session.Owner,
			CreatedAt: manager.now(),
		}); err != nil {
			manager.logf(child, "record upload %s: %v", id, err)
		}
	}

	// Notify
	manager.notify(child, schema.NewEvent(session.Owner, resp, manager.now()))

	// Return the response
	return resp, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// processFile merges the chunks of one file and validates the result
func (manager *Manager) processFile(ctx context.Context, session *schema.Session, fileID string) schema.FileResult {
	file := session.Files[fileID]
	result := schema.FileResult{
		FileID: fileID,
		Chunks: file.Total(),
	}

	path, err := manager.store.MergeChunks(ctx, session.ID, fileID, file.Total(), file.Checksums)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if _, err := manager.sessions.Update(ctx, session.ID, func(s *schema.Session) error {
		if !s.MarkComplete(fileID) {
			return httpresponse.ErrNotFound.Withf("file %q not found", fileID)
		}
		return nil
	}); err != nil {
		manager.logf(ctx, "mark %s/%s merged: %v", session.ID, fileID, err)
	}
	info, err := manager.validator.Validate(ctx, path)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Study, result.Path = info, path
	return result
}

// release removes the chunks and the session. The context may already be
// cancelled, so cleanup runs on a detached one.
func (manager *Manager) release(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	if err := manager.store.CleanupUpload(ctx, id); err != nil {
		manager.logf(ctx, "cleanup upload %s: %v", id, err)
	}
	if err := manager.sessions.Remove(ctx, id); err != nil {
		manager.logf(ctx, "remove session %s: %v", id, err)
	}
}
