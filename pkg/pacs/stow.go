package pacs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strconv"

	// Packages
	backoff "github.com/cenkalti/backoff/v4"
	client "github.com/mutablelogic/go-client"
	otel "github.com/mutablelogic/go-client/pkg/otel"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// stowPayload streams files as a multipart/related request body
type stowPayload struct {
	*io.PipeReader
	contentType string
}

// stowResponse is the DICOM JSON store response, which may be empty
type stowResponse struct {
	Failed     int
	Referenced int
}

var _ client.Payload = (*stowPayload)(nil)
var _ client.Unmarshaler = (*stowResponse)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	tagFailedSOPSequence     = "00081198"
	tagReferencedSOPSequence = "00081199"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Forward stores the files on the PACS and returns a receipt. Transient
// STOW-RS failures are retried with exponential backoff. When the target is
// Orthanc and retries are exhausted, each file is uploaded through the REST
// API instead.
func (c *Client) Forward(ctx context.Context, paths []string) (_ string, result error) {
	ctx, endFunc := otel.StartSpan(c.tracer, ctx, spanName("Forward"))
	defer func() { endFunc(result) }()

	if len(paths) == 0 {
		return "", httpresponse.ErrBadRequest.With("no files to forward")
	}

	// Primary transport
	response, err := c.stow(ctx, paths)
	c.count(ctx, "stow", err, len(paths))
	if err == nil {
		if response.Failed > 0 {
			c.logf(ctx, "stow-rs stored %d instance(s), pacs rejected %d", response.Referenced, response.Failed)
			return schema.ReceiptPartialStowPrefix + strconv.Itoa(response.Referenced) + "/" + strconv.Itoa(len(paths)), nil
		}
		return schema.ReceiptStowPrefix + strconv.Itoa(len(paths)), nil
	}
	if c.target != TargetOrthanc || ctx.Err() != nil {
		return "", fmt.Errorf("stow-rs to %s failed: %w", c.target, err)
	}

	// Secondary transport
	c.logf(ctx, "stow-rs failed, falling back to orthanc rest api: %v", err)
	return c.fallback(ctx, paths)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// stow makes up to the configured number of attempts, each with its own
// timeout. Non-transient errors are not retried. Returns the response of the
// successful attempt.
func (c *Client) stow(ctx context.Context, paths []string) (stowResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.interval
	b.MaxElapsedTime = c.maxElapsed

	var attempt int
	var response stowResponse
	err := backoff.Retry(func() error {
		attempt++
		var err error
		response, err = c.stowOnce(ctx, paths)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case !Transient(err):
			return backoff.Permanent(err)
		}
		if attempt < c.attempts {
			c.logf(ctx, "stow-rs attempt %d/%d failed: %v", attempt, c.attempts, err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.attempts-1)), ctx))
	return response, err
}

func (c *Client) stowOnce(ctx context.Context, paths []string) (stowResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	payload := newStowPayload(paths)
	defer payload.Close()

	var response stowResponse
	if err := c.DoWithContext(ctx, payload, &response, append(c.authOpts(), client.OptPath("studies"), client.OptNoTimeout())...); err != nil {
		return response, err
	}
	if response.Failed > 0 && response.Referenced == 0 {
		return response, httpresponse.ErrBadRequest.Withf("pacs rejected %d instance(s)", response.Failed)
	}
	return response, nil
}

////////////////////////////////////////////////////////////////////////////////
// PAYLOAD

func newStowPayload(paths []string) *stowPayload {
	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(w, paths))
	}()
	return &stowPayload{
		PipeReader:  pr,
		contentType: fmt.Sprintf("multipart/related; type=%q; boundary=%s", ContentTypeDicom, w.Boundary()),
	}
}

func writeParts(w *multipart.Writer, paths []string) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", ContentTypeDicom)
	for _, path := range paths {
		part, err := w.CreatePart(header)
		if err != nil {
			return err
		}
		if err := copyFile(part, path); err != nil {
			return err
		}
	}
	return w.Close()
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func (p *stowPayload) Method() string {
	return http.MethodPost
}

func (p *stowPayload) Accept() string {
	return ContentTypeDicomJSON
}

func (p *stowPayload) Type() string {
	return p.contentType
}

////////////////////////////////////////////////////////////////////////////////
// RESPONSE

func (r *stowResponse) Unmarshal(_ http.Header, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return err
	}
	var response map[string]struct {
		Value []json.RawMessage `json:"Value"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		// Some archives return a body which is not DICOM JSON
		return nil
	}
	r.Failed = len(response[tagFailedSOPSequence].Value)
	r.Referenced = len(response[tagReferencedSOPSequence].Value)
	return nil
}
