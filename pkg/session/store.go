package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strings"

	// Packages
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	blob "gocloud.dev/blob"
	gcerrors "gocloud.dev/gcerrors"

	// Drivers
	_ "gocloud.dev/blob/fileblob" // file:// URLs
	_ "gocloud.dev/blob/memblob"  // mem:// URLs
	_ "gocloud.dev/blob/s3blob"   // s3:// URLs
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Store persists one JSON record per session in a bucket
type Store struct {
	bucket *blob.Bucket
	prefix string
	owned  bool // close the bucket on Close
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	DefaultPrefix = "sessions/"
	recordSuffix  = ".json"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// OpenStore opens a bucket by URL (file://, s3:// or mem://) for session
// records. The directory of a file:// URL is created if it does not exist.
func OpenStore(ctx context.Context, u string) (*Store, error) {
	url, err := url.Parse(u)
	if err != nil {
		return nil, err
	}
	if url.Scheme == "file" {
		q := url.Query()
		q.Set("create_dir", "true")
		url.RawQuery = q.Encode()
	}
	bucket, err := blob.OpenBucket(ctx, url.String())
	if err != nil {
		return nil, httpresponse.ErrInternalError.Withf("failed to open session store: %v", err)
	}
	return &Store{bucket: bucket, prefix: DefaultPrefix, owned: true}, nil
}

// NewStore stores session records under a prefix of an existing bucket. The
// bucket is not closed when the store is closed.
func NewStore(bucket *blob.Bucket, prefix string) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{bucket: bucket, prefix: prefix}
}

// Close the store
func (s *Store) Close() error {
	var result error
	if s.owned && s.bucket != nil {
		result = errors.Join(result, s.bucket.Close())
	}
	s.bucket = nil
	return result
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Put writes the session record, replacing any previous record
func (s *Store) Put(ctx context.Context, session *schema.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return httpresponse.ErrInternalError.Withf("failed to encode session %q: %v", session.ID, err)
	}
	if err := s.bucket.WriteAll(ctx, s.key(session.ID), data, &blob.WriterOptions{
		ContentType: "application/json",
	}); err != nil {
		return httpresponse.ErrInternalError.Withf("failed to persist session %q: %v", session.ID, err)
	}
	return nil
}

// Get reads a session record
func (s *Store) Get(ctx context.Context, id string) (*schema.Session, error) {
	data, err := s.bucket.ReadAll(ctx, s.key(id))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, httpresponse.ErrNotFound.Withf("session %q not found", id)
	} else if err != nil {
		return nil, httpresponse.ErrInternalError.Withf("failed to read session %q: %v", id, err)
	}
	return decode(data)
}

// Delete removes a session record. It is not an error if it does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.bucket.Delete(ctx, s.key(id)); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return httpresponse.ErrInternalError.Withf("failed to delete session %q: %v", id, err)
	}
	return nil
}

// Walk calls fn for every stored record. A record which cannot be read or
// decoded is passed to fn with a nil session and the error.
func (s *Store) Walk(ctx context.Context, fn func(key string, session *schema.Session, err error)) error {
	iter := s.bucket.List(&blob.ListOptions{
		Prefix: s.prefix,
	})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		} else if err != nil {
			return httpresponse.ErrInternalError.Withf("failed to list sessions: %v", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, recordSuffix) {
			continue
		}
		data, err := s.bucket.ReadAll(ctx, obj.Key)
		if err != nil {
			fn(obj.Key, nil, err)
			continue
		}
		session, err := decode(data)
		fn(obj.Key, session, err)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (s *Store) key(id string) string {
	return s.prefix + id + recordSuffix
}

func decode(data []byte) (*schema.Session, error) {
	var session schema.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	} else if session.ID == "" {
		return nil, errors.New("session record has no id")
	} else if !session.ExpiresAt.After(session.CreatedAt) {
		return nil, errors.New("session record expires before it was created")
	}
	if session.Files == nil {
		session.Files = make(map[string]*schema.FileState)
	}
	for id, f := range session.Files {
		if f == nil {
			session.Files[id] = new(schema.FileState)
		}
	}
	return &session, nil
}
