package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	// Packages
	client "github.com/mutablelogic/go-client"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// chunkBody sends the raw bytes of a chunk
type chunkBody struct {
	r io.Reader
}

var _ client.Payload = chunkBody{}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Init creates an upload session, using an access credential
func (c *Client) Init(ctx context.Context, token string, req schema.InitRequest) (*schema.InitResponse, error) {
	payload, err := client.NewJSONRequest(req)
	if err != nil {
		return nil, err
	}
	var response schema.InitResponse
	if err := c.DoWithContext(ctx, payload, &response,
		client.OptPath("upload", "init"),
		bearer(token),
	); err != nil {
		return nil, err
	}
	return &response, nil
}

// PutChunk uploads one chunk, using the upload credential of the session.
// The Content-MD5 header is sent when req.ContentMD5 is set.
func (c *Client) PutChunk(ctx context.Context, token, id string, req schema.ChunkRequest) (*schema.ChunkResponse, error) {
	query := make(url.Values)
	query.Set("chunk_index", strconv.Itoa(req.Index))
	query.Set("file_id", req.FileID)
	opts := []client.RequestOpt{
		client.OptPath("upload", id, "chunk"),
		client.OptQuery(query),
		bearer(token),
	}
	if req.ContentMD5 != "" {
		opts = append(opts, client.OptReqHeader(schema.ContentMD5Header, req.ContentMD5))
	}

	var response schema.ChunkResponse
	if err := c.DoWithContext(ctx, chunkBody{req.Body}, &response, opts...); err != nil {
		return nil, err
	}
	return &response, nil
}

// Complete merges and forwards the uploaded files. Completion waits for the
// PACS, so the request has no timeout.
func (c *Client) Complete(ctx context.Context, token, id string) (*schema.CompleteResponse, error) {
	var response schema.CompleteResponse
	if err := c.DoWithContext(ctx,
		client.NewRequestEx(http.MethodPost, types.ContentTypeJSON),
		&response,
		client.OptPath("upload", id, "complete"),
		client.OptNoTimeout(),
		bearer(token),
	); err != nil {
		return nil, err
	}
	return &response, nil
}

// Status returns the progress of an upload
func (c *Client) Status(ctx context.Context, token, id string) (*schema.StatusResponse, error) {
	var response schema.StatusResponse
	if err := c.DoWithContext(ctx, client.NewRequest(), &response,
		client.OptPath("upload", id, "status"),
		bearer(token),
	); err != nil {
		return nil, err
	}
	return &response, nil
}

// Abort removes an upload and its chunks, returning its last status
func (c *Client) Abort(ctx context.Context, token, id string) (*schema.StatusResponse, error) {
	var response schema.StatusResponse
	if err := c.DoWithContext(ctx,
		client.NewRequestEx(http.MethodDelete, types.ContentTypeJSON),
		&response,
		client.OptPath("upload", id),
		bearer(token),
	); err != nil {
		return nil, err
	}
	return &response, nil
}

// Report returns the report for a study, using an access credential
func (c *Client) Report(ctx context.Context, token, studyUID string) (*schema.ReportResponse, error) {
	var response schema.ReportResponse
	if err := c.DoWithContext(ctx, client.NewRequest(), &response,
		client.OptPath("report", studyUID),
		bearer(token),
	); err != nil {
		return nil, err
	}
	return &response, nil
}

///////////////////////////////////////////////////////////////////////////////
// PAYLOAD

func (chunkBody) Method() string { return http.MethodPut }
func (chunkBody) Accept() string { return types.ContentTypeJSON }
func (chunkBody) Type() string { return types.ContentTypeBinary }

func (b chunkBody) Read(p []byte) (int, error) {
	if b.r == nil {
		return 0, io.EOF
	}
	return b.r.Read(p)
}
