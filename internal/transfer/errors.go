package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports a transfer stopped on request. It ends in the
	// Cancelled or Paused status rather than Failed.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrReadTimeout is the abort cause used when the body stalls for longer
	// than the configured read timeout.
	ErrReadTimeout = errors.New("read timeout")
)

// TransportError represents connection failures, timeouts and non-2xx responses.
type TransportError struct {
	Op         string // The operation that failed (e.g., "get", "read")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string // Status line or network error detail
	Err        error  // Underlying error, if any
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error during %s (HTTP %d): %s", e.Op, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("transport error during %s: %s", e.Op, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FilesystemError represents failures creating, writing or deleting local files.
type FilesystemError struct {
	Op   string // "mkdir", "create", "write", "close" or "remove"
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// HashMismatchError carries both digests of a failed integrity check. It maps
// to the HashMismatch status.
type HashMismatchError struct {
	Algorithm string
	Expected  string
	Actual    string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%s mismatch: expected %s, computed %s", e.Algorithm, e.Expected, e.Actual)
}
