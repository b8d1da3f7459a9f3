package schema

import (
	"errors"
	"fmt"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

var (
	ErrMissingChunk     = errors.New("missing chunk")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrInvalidDicom     = errors.New("invalid dicom")
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// ChunkError names the chunk which caused a merge to fail.
type ChunkError struct {
	FileID string
	Index  int
	Err    error
	Detail string
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (e *ChunkError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v: chunk %d of file %q (%s)", e.Err, e.Index, e.FileID, e.Detail)
	}
	return fmt.Sprintf("%v: chunk %d of file %q", e.Err, e.Index, e.FileID)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
