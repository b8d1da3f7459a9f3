package pacs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	// Packages
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	otel "github.com/mutablelogic/go-client/pkg/otel"
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// leveledLogger sends retryablehttp warnings and errors to a logger
type leveledLogger struct {
	relaypacs.Logger
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// fallback uploads each file with POST /instances. The error lists every
// failure when no file could be stored.
func (c *Client) fallback(ctx context.Context, paths []string) (_ string, result error) {
	ctx, endFunc := otel.StartSpan(c.tracer, ctx, spanName("Fallback"))
	defer func() { endFunc(result) }()

	var errs []string
	var ok int
	for _, path := range paths {
		if err := c.postInstance(ctx, path); err != nil {
			c.logf(ctx, "orthanc rest upload failed for %q: %v", filepath.Base(path), err)
			errs = append(errs, err.Error())
		} else {
			ok++
		}
	}

	// Report the outcome
	switch {
	case ok == 0:
		result = fmt.Errorf("all fallback uploads failed: [%s]", strings.Join(errs, ", "))
		c.count(ctx, "fallback", result, 0)
		return "", result
	case ok < len(paths):
		c.count(ctx, "fallback", nil, ok)
		return schema.ReceiptPartialFallbackPrefix + strconv.Itoa(ok) + "/" + strconv.Itoa(len(paths)), nil
	default:
		c.count(ctx, "fallback", nil, ok)
		return schema.ReceiptFallbackPrefix + strconv.Itoa(ok), nil
	}
}

func (c *Client) postInstance(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.opt.rest+"/instances", f)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentTypeDicom)
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.rest.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		if len(body) > 0 {
			return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("%s", resp.Status)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// LOGGER

func (l leveledLogger) Error(msg string, keysAndValues ...any) {
	l.log("error", msg, keysAndValues)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...any) {
	l.log("warn", msg, keysAndValues)
}

func (l leveledLogger) Info(string, ...any) {}

func (l leveledLogger) Debug(string, ...any) {}

func (l leveledLogger) log(level, msg string, keysAndValues []any) {
	if l.Logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString("orthanc: ")
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	l.Print(context.Background(), b.String())
}
