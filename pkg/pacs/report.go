package pacs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"

	// Packages
	client "github.com/mutablelogic/go-client"
	otel "github.com/mutablelogic/go-client/pkg/otel"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// dicomJSON holds a raw DICOM JSON response body
type dicomJSON struct {
	data []byte
}

type dicomAttr struct {
	VR    string `json:"vr"`
	Value []any  `json:"Value,omitempty"`
}

var _ client.Unmarshaler = (*dicomJSON)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	tagModality          = "00080060"
	tagSeriesInstanceUID = "0020000E"
)

// Series modalities which carry a report
var reportModalities = []string{"SR", "DOC", "KO", "PR"}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// CheckForReport returns true if the study has a report series. Any error is
// treated as no report.
func (c *Client) CheckForReport(ctx context.Context, studyUID string) bool {
	_, ok := c.reportSeries(ctx, studyUID)
	return ok
}

// RetrieveReportContent returns the DICOM JSON metadata of the first report
// series in the study, or false if there is none or the query failed.
func (c *Client) RetrieveReportContent(ctx context.Context, studyUID string) ([]byte, bool) {
	series, ok := c.reportSeries(ctx, studyUID)
	if !ok || series == "" {
		return nil, false
	}

	ctx, endFunc := otel.StartSpan(c.tracer, ctx, spanName("RetrieveReportContent"))
	var response dicomJSON
	err := c.query(ctx, &response, "studies", studyUID, "series", series, "metadata")
	endFunc(err)
	if err != nil || len(response.data) == 0 {
		c.logf(ctx, "report query for study %q: %v", studyUID, err)
		return nil, false
	}
	return response.data, true
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// reportSeries returns the series instance UID of the first report series
func (c *Client) reportSeries(ctx context.Context, studyUID string) (string, bool) {
	if studyUID == "" {
		return "", false
	}

	ctx, endFunc := otel.StartSpan(c.tracer, ctx, spanName("CheckForReport"))
	var response dicomJSON
	err := c.query(ctx, &response, "studies", studyUID, "series")
	endFunc(err)
	if err != nil {
		c.logf(ctx, "report query for study %q: %v", studyUID, err)
		return "", false
	}

	var series []map[string]dicomAttr
	if len(bytes.TrimSpace(response.data)) == 0 {
		return "", false
	} else if err := json.Unmarshal(response.data, &series); err != nil {
		c.logf(ctx, "report query for study %q: %v", studyUID, err)
		return "", false
	}
	for _, s := range series {
		if slices.Contains(reportModalities, s[tagModality].String()) {
			return s[tagSeriesInstanceUID].String(), true
		}
	}
	return "", false
}

func (c *Client) query(ctx context.Context, out *dicomJSON, path ...any) error {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()
	opts := append(c.authOpts(),
		client.OptPath(path...),
		client.OptReqHeader("Accept", ContentTypeDicomJSON),
		client.OptNoTimeout(),
	)
	return c.DoWithContext(ctx, nil, out, opts...)
}

func (r *dicomJSON) Unmarshal(_ http.Header, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	r.data = data
	return nil
}

// String returns the first value as a string
func (a dicomAttr) String() string {
	if len(a.Value) == 0 {
		return ""
	}
	if s, ok := a.Value[0].(string); ok {
		return s
	}
	return ""
}
