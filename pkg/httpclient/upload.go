package httpclient

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"sync"
	"time"

	// Packages
	backoff "github.com/cenkalti/backoff/v4"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	errgroup "golang.org/x/sync/errgroup"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// UploadOpt is a functional option for Upload and Resume.
type UploadOpt func(*uploadOpts) error

type uploadOpts struct {
	filter      func(fs.DirEntry) bool
	concurrency int
	attempts    uint64
	interval    time.Duration
	session     func(*schema.InitResponse)
	progress    func(index, count int, path string, written, bytes int64)
}

// walkEntry holds the path of a discovered file (relative to the fs.FS root),
// its size and the file id it is uploaded as.
type walkEntry struct {
	path string
	id   string
	size int64
}

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	defaultConcurrency = 4
	defaultAttempts    = 5
	defaultInterval    = 500 * time.Millisecond
	maxFileID          = 128
)

var reUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

///////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithFilter sets a function that controls which entries are walked. Return
// false to skip the entry (and its subtree when it is a directory).
func WithFilter(fn func(fs.DirEntry) bool) UploadOpt {
	return func(o *uploadOpts) error {
		o.filter = fn
		return nil
	}
}

// WithConcurrency sets the number of files uploaded at the same time
func WithConcurrency(n int) UploadOpt {
	return func(o *uploadOpts) error {
		if n < 1 {
			return fmt.Errorf("invalid concurrency %d", n)
		}
		o.concurrency = n
		return nil
	}
}

// WithRetry sets how many times a chunk is attempted, and the initial
// interval between attempts, which grows exponentially.
func WithRetry(attempts uint64, interval time.Duration) UploadOpt {
	return func(o *uploadOpts) error {
		if attempts < 1 {
			return fmt.Errorf("invalid attempts %d", attempts)
		}
		o.attempts = attempts
		if interval > 0 {
			o.interval = interval
		}
		return nil
	}
}

// WithSession sets a callback which receives the session once it has been
// created, so that an interrupted upload can be resumed later.
func WithSession(fn func(*schema.InitResponse)) UploadOpt {
	return func(o *uploadOpts) error {
		o.session = fn
		return nil
	}
}

// WithProgress sets a callback that is invoked after each chunk. index is
// the 0-based file position; count is the total number of files. written
// and bytes are the per-file byte counters.
func WithProgress(fn func(index, count int, path string, written, bytes int64)) UploadOpt {
	return func(o *uploadOpts) error {
		o.progress = fn
		return nil
	}
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Upload walks fsys, creates a session for every file found, uploads the
// files in chunks and completes the upload. TotalFiles and TotalBytes of
// req are set from the files. To upload a subtree, pass fs.Sub(fsys,
// "subdir") as fsys.
func (c *Client) Upload(ctx context.Context, token string, req schema.InitRequest, fsys fs.FS, opts ...UploadOpt) (*schema.CompleteResponse, error) {
	o, err := applyUploadOpts(opts)
	if err != nil {
		return nil, err
	}
	entries, err := walkFS(fsys, o.filter)
	if err != nil {
		return nil, err
	} else if len(entries) == 0 {
		return nil, errors.New("no files to upload")
	}

	// Create the session
	req.TotalFiles, req.TotalBytes = len(entries), 0
	for _, e := range entries {
		req.TotalBytes += e.size
	}
	session, err := c.Init(ctx, token, req)
	if err != nil {
		return nil, err
	}
	if o.session != nil {
		o.session(session)
	}

	// Upload and complete
	return c.upload(ctx, session, fsys, entries, nil, o)
}

// Resume continues an upload for an existing session. Chunks the server
// already has are skipped. fsys must contain the same files as when the
// upload was started.
func (c *Client) Resume(ctx context.Context, session *schema.InitResponse, fsys fs.FS, opts ...UploadOpt) (*schema.CompleteResponse, error) {
	o, err := applyUploadOpts(opts)
	if err != nil {
		return nil, err
	}
	entries, err := walkFS(fsys, o.filter)
	if err != nil {
		return nil, err
	}

	// Get the chunks already received
	status, err := c.Status(ctx, session.Token, session.ID)
	if err != nil {
		return nil, err
	}
	received := make(map[string]map[int]bool, len(status.Files))
	for id, f := range status.Files {
		received[id] = make(map[int]bool, len(f.ReceivedChunks))
		for _, i := range f.ReceivedChunks {
			received[id][i] = true
		}
	}

	// Upload and complete
	return c.upload(ctx, session, fsys, entries, received, o)
}

// FileID returns the identifier a file is uploaded as, from its position
// and path
func FileID(index int, path string) string {
	id := fmt.Sprintf("%04d-%s", index, reUnsafe.ReplaceAllString(path, "_"))
	if len(id) > maxFileID {
		id = id[:maxFileID]
	}
	return id
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func applyUploadOpts(opts []UploadOpt) (*uploadOpts, error) {
	o := &uploadOpts{
		concurrency: defaultConcurrency,
		attempts:    defaultAttempts,
		interval:    defaultInterval,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// upload sends every chunk not in received, then completes the session
func (c *Client) upload(ctx context.Context, session *schema.InitResponse, fsys fs.FS, entries []walkEntry, received map[string]map[int]bool, o *uploadOpts) (*schema.CompleteResponse, error) {
	if session.ChunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", session.ChunkSize)
	}

	// Upload files concurrently, chunks of a file in order
	g, child := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	var mu sync.Mutex
	for i, e := range entries {
		g.Go(func() error {
			return c.uploadFile(child, session, fsys, e, received[e.id], o, func(written int64) {
				if o.progress != nil {
					mu.Lock()
					defer mu.Unlock()
					o.progress(i, len(entries), e.path, written, e.size)
				}
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Complete the upload
	return c.Complete(ctx, session.Token, session.ID)
}

// uploadFile sends the chunks of one file, skipping those in received
func (c *Client) uploadFile(ctx context.Context, session *schema.InitResponse, fsys fs.FS, e walkEntry, received map[int]bool, o *uploadOpts, progress func(int64)) error {
	f, err := fsys.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, session.ChunkSize)
	var written int64
	for index := 0; ; index++ {
		n, err := io.ReadFull(f, buf)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%s: %w", e.path, err)
		}
		written += int64(n)

		// Send the chunk unless it was already received
		if !received[index] {
			if err := c.putChunk(ctx, session, e.id, index, buf[:n], o); err != nil {
				return fmt.Errorf("%s: chunk %d: %w", e.path, index, err)
			}
		}
		progress(written)

		// A short read is the last chunk
		if n < len(buf) {
			break
		}
	}

	// Return success
	return nil
}

// putChunk sends one chunk, retrying with exponential backoff
func (c *Client) putChunk(ctx context.Context, session *schema.InitResponse, fileID string, index int, data []byte, o *uploadOpts) error {
	sum := md5.Sum(data)
	digest := base64.StdEncoding.EncodeToString(sum[:])

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.interval
	return backoff.Retry(func() error {
		_, err := c.PutChunk(ctx, session.Token, session.ID, schema.ChunkRequest{
			FileID:     fileID,
			Index:      index,
			Body:       bytes.NewReader(data),
			ContentMD5: digest,
		})
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, o.attempts-1), ctx))
}

// walkFS walks the filesystem from its root (".") and returns one walkEntry
// per regular (non-directory) file, in lexical order. filter is called for
// every entry; return false to skip it (and its subtree when it is a
// directory). A nil filter includes everything.
func walkFS(fsys fs.FS, filter func(fs.DirEntry) bool) ([]walkEntry, error) {
	var entries []walkEntry
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if filter != nil && !filter(d) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		} else if info.Size() == 0 {
			return nil
		}
		entries = append(entries, walkEntry{path: p, id: FileID(len(entries), p), size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
