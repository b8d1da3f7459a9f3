package chunkstore

import (
	"errors"
	"regexp"
	"syscall"

	// Packages
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	gcerrors "gocloud.dev/gcerrors"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

var (
	reIdentifier = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// ValidateID returns an error if the identifier cannot be used as a path
// segment in a storage key.
func ValidateID(kind, id string) error {
	if id == "." || id == ".." || !reIdentifier.MatchString(id) {
		return httpresponse.ErrBadRequest.Withf("invalid %s %q", kind, id)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func validateChunk(uploadID, fileID string, index int) error {
	if err := ValidateID("upload id", uploadID); err != nil {
		return err
	} else if err := ValidateID("file id", fileID); err != nil {
		return err
	} else if index < 0 {
		return httpresponse.ErrBadRequest.Withf("invalid chunk index %d", index)
	}
	return nil
}

// blobErr wraps a go-cloud blob error with the appropriate httpresponse error
func blobErr(err error, key string) error {
	if err == nil {
		return nil
	}
	// Check for OS-level errors before go-cloud classification, since the
	// gcerrors default path wraps with %v and breaks the chain.
	if errors.Is(err, syscall.EISDIR) || errors.Is(err, syscall.EEXIST) {
		return httpresponse.ErrBadRequest.Withf("cannot overwrite directory with chunk: %q", key)
	}
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return httpresponse.ErrNotFound.Withf("chunk %q not found", key)
	case gcerrors.PermissionDenied:
		return httpresponse.ErrForbidden.Withf("permission denied for %q", key)
	case gcerrors.InvalidArgument:
		return httpresponse.ErrBadRequest.Withf("invalid argument for %q: %v", key, err)
	case gcerrors.FailedPrecondition:
		return httpresponse.ErrConflict.Withf("precondition failed for %q: %v", key, err)
	default:
		return httpresponse.ErrInternalError.Withf("chunk store operation failed: %v", err)
	}
}
