// Package remote abstracts the origins a transfer can read from. A Source
// knows how to probe an object's size and how to open a reader over an
// inclusive byte range of it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrRangeNotSupported indicates the origin ignores Range semantics for
// the requested object.
var ErrRangeNotSupported = errors.New("range requests are not supported")

type FileInfo struct {
	Size int64
	Name string
	ETag string
}

type Source interface {
	// Probe issues a header-only request and returns object metadata.
	Probe(ctx context.Context) (FileInfo, error)
	// OpenRange opens a reader over the inclusive byte range [start, end].
	OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error)
}

// StatusError is a non-2xx terminal response from an origin.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Retryable reports whether an error is worth another attempt. Server-side
// (5xx) statuses and transport-level failures are retryable; client errors
// and range misbehavior are terminal.
func Retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}
	if errors.Is(err, ErrRangeNotSupported) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}
