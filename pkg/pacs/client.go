package pacs

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"

	// Packages
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	client "github.com/mutablelogic/go-client"
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	attribute "go.opentelemetry.io/otel/attribute"
	metric "go.opentelemetry.io/otel/metric"
	noop "go.opentelemetry.io/otel/metric/noop"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Client forwards files to a PACS with DICOMweb STOW-RS, falling back to the
// Orthanc REST API, and queries it for reports with QIDO-RS
type Client struct {
	*opt
	*client.Client
	endpoint string
	rest     *retryablehttp.Client
	forwards metric.Int64Counter
	files    metric.Int64Counter
}

var _ relaypacs.Forwarder = (*Client)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	ContentTypeDicom     = "application/dicom"
	ContentTypeDicomJSON = "application/dicom+json"
	orthancDicomWeb      = "/dicom-web"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New returns a client for the DICOMweb endpoint, for example
// http://localhost:8042/dicom-web. A trailing /studies is removed.
func New(endpoint string, opts ...Opt) (*Client, error) {
	self := new(Client)

	// Apply options
	if o, err := applyOpts(opts...); err != nil {
		return nil, err
	} else {
		self.opt = o
	}

	// Check the endpoint
	if u, err := url.Parse(endpoint); err != nil {
		return nil, err
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return nil, httpresponse.ErrBadRequest.Withf("dicomweb endpoint %q must be http or https", endpoint)
	} else if u.Host == "" {
		return nil, httpresponse.ErrBadRequest.Withf("dicomweb endpoint %q has no host", endpoint)
	}
	self.endpoint = strings.TrimSuffix(strings.TrimSuffix(endpoint, "/"), "/studies")

	// DICOMweb client
	if c, err := client.New(append(self.clientOpts, client.OptEndpoint(self.endpoint))...); err != nil {
		return nil, err
	} else {
		self.Client = c
	}

	// The Orthanc REST API is usually the DICOMweb root without the plugin path
	if self.target == TargetOrthanc {
		if self.opt.rest == "" {
			self.opt.rest = strings.TrimSuffix(self.endpoint, orthancDicomWeb)
		}
		self.rest = retryablehttp.NewClient()
		self.rest.RetryMax = self.attempts - 1
		self.rest.RetryWaitMin = self.interval
		self.rest.RetryWaitMax = 4 * self.interval
		self.rest.HTTPClient.Timeout = self.attemptTimeout
		self.rest.Logger = leveledLogger{self.logger}
	}

	// Metrics
	meter := self.meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(schema.SchemaName)
	}
	if counter, err := meter.Int64Counter(schema.SchemaName+".forward", metric.WithDescription("Forwarding attempts by transport and result")); err != nil {
		return nil, err
	} else {
		self.forwards = counter
	}
	if counter, err := meter.Int64Counter(schema.SchemaName+".forward.files", metric.WithDescription("Files stored on the PACS")); err != nil {
		return nil, err
	} else {
		self.files = counter
	}

	// Return success
	return self, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Target returns the kind of PACS
func (c *Client) Target() Target {
	return c.target
}

// Endpoint returns the DICOMweb root
func (c *Client) Endpoint() string {
	return c.endpoint
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (c *Client) authOpts() []client.RequestOpt {
	if c.username == "" && c.password == "" {
		return nil
	}
	token := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
	return []client.RequestOpt{client.OptReqHeader("Authorization", "Basic "+token)}
}

func (c *Client) count(ctx context.Context, transport string, err error, files int) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.forwards.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("result", result),
	))
	if err == nil && files > 0 {
		c.files.Add(ctx, int64(files), metric.WithAttributes(attribute.String("transport", transport)))
	}
}

func (c *Client) logf(ctx context.Context, format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(ctx, format, args...)
	}
}

func spanName(op string) string {
	return schema.SchemaName + ".pacs." + op
}
