package chunkstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"

	// Packages
	blob "gocloud.dev/blob"
	gcerrors "gocloud.dev/gcerrors"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Checksum returns the hex MD5 of chunk content, as registered in a session
// and compared at merge time.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SaveChunk writes a chunk and returns its storage key. An existing chunk at
// the same index is overwritten.
func (s *Store) SaveChunk(ctx context.Context, uploadID, fileID string, index int, data []byte) (string, error) {
	if err := validateChunk(uploadID, fileID, index); err != nil {
		return "", err
	}
	key := s.chunkKey(uploadID, fileID, index)

	// Write the chunk
	if w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return "", blobErr(err, key)
	} else if _, err := w.Write(data); err != nil {
		err = errors.Join(err, w.Close())
		s.bucket.Delete(ctx, key)
		return "", blobErr(err, key)
	} else if err := w.Close(); err != nil {
		s.bucket.Delete(ctx, key)
		return "", blobErr(err, key)
	}

	// Return success
	return key, nil
}

// ChunkExists returns true if the chunk is stored
func (s *Store) ChunkExists(ctx context.Context, uploadID, fileID string, index int) (bool, error) {
	if err := validateChunk(uploadID, fileID, index); err != nil {
		return false, err
	}
	key := s.chunkKey(uploadID, fileID, index)
	if exists, err := s.bucket.Exists(ctx, key); err != nil {
		return false, blobErr(err, key)
	} else {
		return exists, nil
	}
}

// VerifyChunk returns true if the stored chunk has the expected size. Only the
// object attributes are read.
func (s *Store) VerifyChunk(ctx context.Context, uploadID, fileID string, index int, size int64) (bool, error) {
	if err := validateChunk(uploadID, fileID, index); err != nil {
		return false, err
	}
	key := s.chunkKey(uploadID, fileID, index)
	attrs, err := s.bucket.Attributes(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return false, nil
	} else if err != nil {
		return false, blobErr(err, key)
	}
	return attrs.Size == size, nil
}

// ReadChunk returns the content of a stored chunk
func (s *Store) ReadChunk(ctx context.Context, uploadID, fileID string, index int) ([]byte, error) {
	if err := validateChunk(uploadID, fileID, index); err != nil {
		return nil, err
	}
	key := s.chunkKey(uploadID, fileID, index)
	if data, err := s.bucket.ReadAll(ctx, key); err != nil {
		return nil, blobErr(err, key)
	} else {
		return data, nil
	}
}

// DeleteChunk removes a stored chunk. It is not an error if the chunk does not
// exist.
func (s *Store) DeleteChunk(ctx context.Context, uploadID, fileID string, index int) error {
	if err := validateChunk(uploadID, fileID, index); err != nil {
		return err
	}
	key := s.chunkKey(uploadID, fileID, index)
	if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return blobErr(err, key)
	}
	return nil
}
