package chunkstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	// Packages
	blob "gocloud.dev/blob"
	gcerrors "gocloud.dev/gcerrors"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// CleanupUpload deletes every chunk of the upload and its merge scratch
// directory. It is not an error if nothing exists.
func (s *Store) CleanupUpload(ctx context.Context, uploadID string) error {
	if err := ValidateID("upload id", uploadID); err != nil {
		return err
	}
	prefix := s.uploadPrefix(uploadID)

	// Keep listing and deleting until no more objects match
	var result error
	for {
		iter := s.bucket.List(&blob.ListOptions{
			Prefix: prefix,
		})
		deletedInPass := 0
		for {
			obj, err := iter.Next(ctx)
			if err == io.EOF {
				break
			} else if err != nil {
				return blobErr(err, prefix)
			}
			if obj.IsDir {
				continue
			}
			if err := s.bucket.Delete(ctx, obj.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
				return blobErr(err, obj.Key)
			}
			deletedInPass++
		}
		if deletedInPass == 0 {
			break
		}
	}

	// Remove the empty directory tree left by file:// buckets
	if s.root != "" {
		result = errors.Join(result, os.RemoveAll(filepath.Join(s.root, uploadID)))
	}

	// Remove merge scratch space
	result = errors.Join(result, os.RemoveAll(filepath.Join(s.scratch, uploadID)))

	// Return any errors
	return result
}
