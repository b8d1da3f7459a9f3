package pacs

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

var transientMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"unexpected eof",
	"timeout",
	"deadline exceeded",
	": eof",
}

// Transient returns true if the error is from the network or a timeout, and
// the request may succeed if repeated
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Errors which lost their type on the way up
	message := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(message, m) {
			return true
		}
	}
	return false
}
