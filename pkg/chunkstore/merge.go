package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// Packages
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	gcerrors "gocloud.dev/gcerrors"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// MergeChunks concatenates chunks 0..total-1 in index order into a local file
// and returns its path. A missing index fails with schema.ErrMissingChunk.
// When checksums is not nil, each chunk with a registered checksum is hashed
// before it is appended, and a mismatch fails with schema.ErrChecksumMismatch.
// On failure no merged file is left behind.
func (s *Store) MergeChunks(ctx context.Context, uploadID, fileID string, total int, checksums map[int]string) (string, error) {
	if err := validateChunk(uploadID, fileID, 0); err != nil {
		return "", err
	} else if total <= 0 {
		return "", httpresponse.ErrBadRequest.Withf("file %q has no chunks", fileID)
	}

	// Create the output file
	path := s.mergePath(uploadID, fileID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", httpresponse.ErrInternalError.With(err.Error())
	}
	w, err := os.Create(path)
	if err != nil {
		return "", httpresponse.ErrInternalError.With(err.Error())
	}
	fail := func(err error) (string, error) {
		return "", errors.Join(err, w.Close(), os.Remove(path))
	}

	// Append chunks in order
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		key := s.chunkKey(uploadID, fileID, i)
		data, err := s.bucket.ReadAll(ctx, key)
		if gcerrors.Code(err) == gcerrors.NotFound {
			return fail(&schema.ChunkError{FileID: fileID, Index: i, Err: schema.ErrMissingChunk})
		} else if err != nil {
			return fail(blobErr(err, key))
		}
		if want, exists := checksums[i]; exists && want != "" {
			if got := Checksum(data); !strings.EqualFold(got, want) {
				return fail(&schema.ChunkError{
					FileID: fileID,
					Index:  i,
					Err:    schema.ErrChecksumMismatch,
					Detail: fmt.Sprintf("expected %s, got %s", want, got),
				})
			}
		}
		if _, err := w.Write(data); err != nil {
			return fail(httpresponse.ErrInternalError.With(err.Error()))
		}
	}

	// Flush to disk
	if err := w.Sync(); err != nil {
		return fail(httpresponse.ErrInternalError.With(err.Error()))
	} else if err := w.Close(); err != nil {
		os.Remove(path)
		return "", httpresponse.ErrInternalError.With(err.Error())
	}

	// Return success
	return path, nil
}
