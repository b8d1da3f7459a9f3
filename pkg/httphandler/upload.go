package httphandler

import (
	"net/http"
	"strconv"

	// Packages
	auth "github.com/mutablelogic/go-relaypacs/pkg/auth"
	manager "github.com/mutablelogic/go-relaypacs/pkg/manager"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httprequest "github.com/mutablelogic/go-server/pkg/httprequest"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	jsonschema "github.com/mutablelogic/go-server/pkg/jsonschema"
)

///////////////////////////////////////////////////////////////////////////////
// HANDLER FUNCTIONS

// Path: upload/init
// POST creates an upload session. Requires an access credential.
func InitHandler(mgr *manager.Manager, authority *auth.Authority) (string, *jsonschema.Schema, httprequest.PathItem) {
	return "upload/init", nil, httprequest.NewPathItem(
		"Upload", "Create upload sessions", "Upload",
	).Post(func(w http.ResponseWriter, r *http.Request) {
		_ = uploadInit(w, r, mgr, authority)
	}, "Create an upload session for a study")
}

// Path: upload/{id}/chunk
// PUT stores one chunk of a file. The chunk index and file are the
// chunk_index and file_id query parameters (chunkIndex and fileId are
// also accepted). Requires the upload credential for the session.
func ChunkHandler(mgr *manager.Manager, authority *auth.Authority) (string, *jsonschema.Schema, httprequest.PathItem) {
	return "upload/{id}/chunk", nil, httprequest.NewPathItem(
		"Chunk", "Upload file chunks", "Upload",
	).Put(func(w http.ResponseWriter, r *http.Request) {
		_ = uploadChunk(w, r, mgr, authority)
	}, "Upload one chunk of a file")
}

// Path: upload/{id}/complete
// POST merges, validates and forwards the uploaded files.
func CompleteHandler(mgr *manager.Manager, authority *auth.Authority) (string, *jsonschema.Schema, httprequest.PathItem) {
	return "upload/{id}/complete", nil, httprequest.NewPathItem(
		"Complete", "Complete an upload", "Upload",
	).Post(func(w http.ResponseWriter, r *http.Request) {
		_ = uploadComplete(w, r, mgr, authority)
	}, "Complete an upload and forward the study to the PACS")
}

// Path: upload/{id}/status
// GET returns the progress of an upload.
func StatusHandler(mgr *manager.Manager, authority *auth.Authority) (string, *jsonschema.Schema, httprequest.PathItem) {
	return "upload/{id}/status", nil, httprequest.NewPathItem(
		"Status", "Upload progress", "Upload",
	).Get(func(w http.ResponseWriter, r *http.Request) {
		_ = uploadStatus(w, r, mgr, authority)
	}, "Get the progress of an upload")
}

// Path: upload/{id}
// DELETE aborts an upload and removes its chunks.
func SessionHandler(mgr *manager.Manager, authority *auth.Authority) (string, *jsonschema.Schema, httprequest.PathItem) {
	return "upload/{id}", nil, httprequest.NewPathItem(
		"Session", "Upload session", "Upload",
	).Delete(func(w http.ResponseWriter, r *http.Request) {
		_ = uploadAbort(w, r, mgr, authority)
	}, "Abort an upload")
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func uploadInit(w http.ResponseWriter, r *http.Request, mgr *manager.Manager, authority *auth.Authority) error {
	claims, err := verify(r, authority, schema.TokenAccess)
	if err != nil {
		return httpresponse.Error(w, err)
	}

	// Read request
	var req schema.InitRequest
	if err := httprequest.Read(r, &req); err != nil {
		return httpresponse.Error(w, httpresponse.ErrBadRequest.With(err.Error()))
	}

	// Create the session
	resp, err := mgr.Init(r.Context(), claims.Subject, req)
	if err != nil {
		return httpresponse.Error(w, err)
	}

	// Return success
	return httpresponse.JSON(w, http.StatusCreated, httprequest.Indent(r), resp)
}

func uploadChunk(w http.ResponseWriter, r *http.Request, mgr *manager.Manager, authority *auth.Authority) error {
	claims, err := verify(r, authority, schema.TokenUpload)
	if err != nil {
		return httpresponse.Error(w, err)
	}

	// Chunk index and file from the query
	req, err := chunkRequest(r)
	if err != nil {
		return httpresponse.Error(w, err)
	}

	// Store the chunk
	resp, err := mgr.PutChunk(r.Context(), claims, r.PathValue("id"), req)
	if err != nil {
		return httpresponse.Error(w, err)
	}

	// Return success
	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), resp)
}

func uploadComplete(w http.ResponseWriter, r *http.Request, mgr *manager.Manager, authority *auth.Authority) error {
	claims, err := verify(r, authority, schema.TokenUpload)
	if err != nil {
		return httpresponse.Error(w, err)
	}

	resp, err := mgr.Complete(r.Context(), claims, r.PathValue("id"))
	if err != nil {
		return httpresponse.Error(w, err)
	}

	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), resp)
}

func uploadStatus(w http.ResponseWriter, r *http.Request, mgr *manager.Manager, authority *auth.Authority) error {
	claims, err := verify(r, authority, schema.TokenUpload)
	if err != nil {
		return httpresponse.Error(w, err)
	}

	resp, err := mgr.Status(r.Context(), claims, r.PathValue("id"))
	if err != nil {
		return httpresponse.Error(w, err)
	}

	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), resp)
}

func uploadAbort(w http.ResponseWriter, r *http.Request, mgr *manager.Manager, authority *auth.Authority) error {
	claims, err := verify(r, authority, schema.TokenUpload)
	if err != nil {
		return httpresponse.Error(w, err)
	}

	resp, err := mgr.Abort(r.Context(), claims, r.PathValue("id"))
	if err != nil {
		return httpresponse.Error(w, err)
	}

	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), resp)
}

// chunkRequest reads the chunk parameters from the query and the body
func chunkRequest(r *http.Request) (schema.ChunkRequest, error) {
	q := r.URL.Query()
	req := schema.ChunkRequest{
		FileID:     firstOf(q.Get("file_id"), q.Get("fileId")),
		Body:       r.Body,
		ContentMD5: r.Header.Get(schema.ContentMD5Header),
	}
	if req.FileID == "" {
		return req, httpresponse.ErrBadRequest.With("missing file_id")
	}

	index := firstOf(q.Get("chunk_index"), q.Get("chunkIndex"))
	if index == "" {
		return req, httpresponse.ErrBadRequest.With("missing chunk_index")
	} else if v, err := strconv.Atoi(index); err != nil {
		return req, httpresponse.ErrBadRequest.Withf("invalid chunk_index %q", index)
	} else {
		req.Index = v
	}

	return req, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
