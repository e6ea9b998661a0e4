package shuffle

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy of the transfer engine. Every failure surfaced to a caller
// wraps exactly one of these so errors.Is can drive retry decisions.
var (
	// ErrConfiguration is fatal and reported at construction time, for
	// example a missing credentials file. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransientTransport covers network timeouts, throttling and other
	// backend failures that may succeed on a later attempt.
	ErrTransientTransport = errors.New("transient transport error")

	// ErrQueueFull is returned at admission when the bounded queue is full
	// and the policy is to reject.
	ErrQueueFull = errors.New("transfer queue full")

	// ErrTimeout means the task exceeded its deadline and was force-failed.
	ErrTimeout = errors.New("transfer timed out")

	// ErrCacheConsistency signals an internal invariant violation in the
	// location cache. It indicates a bug.
	ErrCacheConsistency = errors.New("cache consistency violation")

	// ErrDuplicateTransfer is returned when the same (identity, kind) pair is
	// submitted while a previous submission is still in flight.
	ErrDuplicateTransfer = errors.New("duplicate in-flight transfer")

	// ErrCancelled is the terminal cause of a task cancelled by its caller.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrClosed is returned for submissions after the engine was closed.
	ErrClosed = errors.New("transfer engine closed")

	// ErrBlockNotFound means no remote object exists for the identity.
	ErrBlockNotFound = errors.New("shuffle block not found")

	// ErrInvalidIndex is returned for malformed index files and out of
	// range reduce ids.
	ErrInvalidIndex = errors.New("invalid shuffle index")

	// ErrInvalidBlockID rejects identities with impossible components.
	ErrInvalidBlockID = errors.New("invalid block id")
)

// TransferError wraps a taxonomy error with the context of the failed
// operation. errors.Is and errors.As see through it.
//
//	err := NewTransferError("upload", id, "s3", ErrTransientTransport)
//	errors.Is(err, ErrTransientTransport) // true
type TransferError struct {
	// Op is "upload", "download", "resolve" or "index".
	Op string

	ID BlockID

	// Backend is the store type that served the operation, if any.
	Backend string

	// Duration is how long the operation ran before failing.
	Duration time.Duration

	Err error
}

func (e *TransferError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("shuffle %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("shuffle %s %s (backend=%s): %v", e.Op, e.ID, e.Backend, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// NewTransferError creates a TransferError. Duration can be set on the
// returned value.
func NewTransferError(op string, id BlockID, backend string, err error) *TransferError {
	return &TransferError{Op: op, ID: id, Backend: backend, Err: err}
}

// IsTransient reports whether err may succeed if the operation is retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientTransport) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrQueueFull)
}
