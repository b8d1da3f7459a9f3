package manager

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	// Packages
	otel "github.com/mutablelogic/go-client/pkg/otel"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	attribute "go.opentelemetry.io/otel/attribute"
	metric "go.opentelemetry.io/otel/metric"
	noop "go.opentelemetry.io/otel/metric/noop"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Manager sequences an upload: init, chunk ingest, completion. Every
// operation after init needs an upload credential scoped to the session.
type Manager struct {
	opts
	wg      sync.WaitGroup // pending notifications
	chunks  metric.Int64Counter
	bytes   metric.Int64Counter
	uploads metric.Int64Counter
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	maxWarning = 200
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a new upload manager.
func New(ctx context.Context, opts ...Opt) (*Manager, error) {
	self := new(Manager)

	// Apply options
	if opt, err := applyOpts(opts); err != nil {
		return nil, err
	} else {
		self.opts = opt
	}

	// Check required collaborators
	switch {
	case self.store == nil:
		return nil, httpresponse.ErrInternalError.With("chunk store is required")
	case self.sessions == nil:
		return nil, httpresponse.ErrInternalError.With("session manager is required")
	case self.validator == nil:
		return nil, httpresponse.ErrInternalError.With("validator is required")
	case self.forwarder == nil:
		return nil, httpresponse.ErrInternalError.With("forwarder is required")
	}

	// Counters
	meter := self.meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(schema.SchemaName)
	}
	var err error
	if self.chunks, err = meter.Int64Counter(schema.SchemaName+".chunks", metric.WithDescription("Chunks received")); err != nil {
		return nil, err
	}
	if self.bytes, err = meter.Int64Counter(schema.SchemaName+".bytes", metric.WithDescription("Chunk bytes received"), metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if self.uploads, err = meter.Int64Counter(schema.SchemaName+".uploads", metric.WithDescription("Uploads by outcome")); err != nil {
		return nil, err
	}

	// Return success
	return self, nil
}

// Close waits for pending notifications to be delivered
func (manager *Manager) Close() error {
	manager.wg.Wait()
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Init creates an upload session for the owner. Unless the request forces
// it, a study with the same declared metadata uploaded within the duplicate
// window is rejected with a conflict.
func (manager *Manager) Init(ctx context.Context, owner string, req schema.InitRequest) (_ *schema.InitResponse, result error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("Init"))
	defer func() { endFunc(result) }()

	// Check the declaration
	switch {
	case req.TotalFiles <= 0:
		return nil, httpresponse.ErrBadRequest.With("total_files must be positive")
	case req.TotalBytes <= 0:
		return nil, httpresponse.ErrBadRequest.With("total_size_bytes must be positive")
	case req.TotalBytes > manager.maxUploadSize:
		return nil, httpresponse.ErrBadRequest.Withf("total_size_bytes %d exceeds the maximum of %d", req.TotalBytes, manager.maxUploadSize)
	}

	// Check for a duplicate study
	var warning string
	if seen := manager.duplicate(child, req.Meta); seen != nil {
		if !req.Force {
			return nil, httpresponse.ErrConflict.Withf("%s: study uploaded at %s (upload %s)", schema.ReasonDuplicateStudy, seen.CreatedAt.UTC().Format(time.RFC3339), seen.UploadID)
		}
		warning = schema.ReasonDuplicateStudy + ": study previously uploaded at " + seen.CreatedAt.UTC().Format(time.RFC3339)
	}

	// Remove expired sessions
	if n, err := manager.Sweep(child); err != nil {
		manager.logf(child, "sweep: %v", err)
	} else if n > 0 {
		manager.logf(child, "sweep: removed %d expired session(s)", n)
	}

	// Create the session
	_, resp, err := manager.sessions.Create(child, owner, req)
	if err != nil {
		return nil, err
	}
	resp.Warning = warning
	manager.uploads.Add(child, 1, metric.WithAttributes(attribute.String("status", string(schema.StateInitialized))))

	// Return success
	return resp, nil
}

// Status returns the progress of the session
func (manager *Manager) Status(ctx context.Context, claims *schema.Claims, id string) (_ *schema.StatusResponse, result error) {
	_, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("Status"))
	defer func() { endFunc(result) }()

	session, err := manager.session(claims, id)
	if err != nil {
		return nil, err
	}
	return schema.NewStatusResponse(session), nil
}

// Abort removes the session and its chunks, returning the last status
func (manager *Manager) Abort(ctx context.Context, claims *schema.Claims, id string) (_ *schema.StatusResponse, result error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("Abort"))
	defer func() { endFunc(result) }()

	if !claims.Scoped(id) {
		return nil, errForbidden(id)
	}
	session, err := manager.sessions.Get(id)
	if err != nil {
		return nil, err
	} else if session.State == schema.StateCompleting {
		return nil, httpresponse.ErrConflict.Withf("upload %q is completing", id)
	}

	// Remove chunks, then the session
	if err := manager.store.CleanupUpload(child, id); err != nil {
		return nil, err
	}
	if err := manager.sessions.Remove(child, id); err != nil {
		return nil, err
	}
	manager.uploads.Add(child, 1, metric.WithAttributes(attribute.String("status", "aborted")))

	// Return the last status
	return schema.NewStatusResponse(session), nil
}

// Sweep removes expired sessions and their chunks
func (manager *Manager) Sweep(ctx context.Context) (int, error) {
	return manager.sessions.CleanupExpired(ctx, manager.store)
}

// Run sweeps expired sessions every interval until the context is cancelled
func (manager *Manager) Run(ctx context.Context, interval time.Duration) error {
	return manager.sessions.Run(ctx, manager.store, interval)
}

// Report returns the report for a study, or a not found error
func (manager *Manager) Report(ctx context.Context, studyUID string) (_ *schema.ReportResponse, result error) {
	child, endFunc := otel.StartSpan(manager.tracer, ctx, spanManagerName("Report"))
	defer func() { endFunc(result) }()

	if studyUID == "" {
		return nil, httpresponse.ErrBadRequest.With("missing study instance uid")
	}
	content, ok := manager.forwarder.RetrieveReportContent(child, studyUID)
	if !ok {
		return nil, httpresponse.ErrNotFound.Withf("no report for study %q", studyUID)
	}
	return &schema.ReportResponse{
		StudyUID:  studyUID,
		Available: true,
		Content:   content,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// session returns a copy of a live session the claims are scoped to
func (manager *Manager) session(claims *schema.Claims, id string) (*schema.Session, error) {
	if !claims.Scoped(id) {
		return nil, errForbidden(id)
	}
	session, err := manager.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if session.Expired(manager.now()) {
		return nil, httpresponse.Err(http.StatusGone).Withf("upload %q has expired", id)
	}
	return session, nil
}

// duplicate returns the registry record for a study uploaded within the
// window. Registry errors are logged and treated as not seen.
func (manager *Manager) duplicate(ctx context.Context, meta schema.StudyMeta) *schema.StudyRecord {
	if manager.registry == nil {
		return nil
	}
	hash := meta.Hash()
	if hash == "" {
		return nil
	}
	record, err := manager.registry.Seen(ctx, hash, manager.now().Add(-manager.duplicateWindow))
	if err != nil {
		manager.logf(ctx, "duplicate check: %v", err)
		return nil
	}
	return record
}

// notify sends the event on a detached context
func (manager *Manager) notify(ctx context.Context, event schema.Event) {
	if manager.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), manager.notifyTimeout)
	manager.wg.Add(1)
	go func() {
		defer manager.wg.Done()
		defer cancel()
		if err := manager.notifier.Notify(ctx, event); err != nil {
			manager.logf(ctx, "notify %s for upload %s: %v", event.Type, event.UploadID, err)
		}
	}()
}

func (manager *Manager) logf(ctx context.Context, format string, args ...any) {
	if manager.logger != nil {
		manager.logger.Printf(ctx, format, args...)
	}
}

func errForbidden(id string) error {
	return httpresponse.ErrForbidden.Withf("credential is not valid for upload %q", id)
}

// truncate shortens a warning
func truncate(s string) string {
	if len(s) <= maxWarning {
		return s
	}
	return s[:maxWarning] + "..."
}

func isNotFound(err error) bool {
	return errors.Is(err, httpresponse.ErrNotFound)
}

func spanManagerName(op string) string {
	return schema.SchemaName + ".manager." + op
}
