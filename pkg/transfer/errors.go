package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"

	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/store"
)

var taxonomy = []error{
	shuffle.ErrConfiguration,
	shuffle.ErrTransientTransport,
	shuffle.ErrQueueFull,
	shuffle.ErrTimeout,
	shuffle.ErrCacheConsistency,
	shuffle.ErrDuplicateTransfer,
	shuffle.ErrCancelled,
	shuffle.ErrClosed,
	shuffle.ErrBlockNotFound,
	shuffle.ErrInvalidIndex,
	shuffle.ErrInvalidBlockID,
}

// Classify maps an error from the transport or the runtime onto the engine's
// taxonomy. The original error stays in the chain. Errors that match no
// category are returned unchanged and treated as fatal.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range taxonomy {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	switch {
	case errors.Is(err, store.ErrObjectNotFound):
		return fmt.Errorf("%w: %w", shuffle.ErrBlockNotFound, err)
	case errors.Is(err, store.ErrTransient):
		return fmt.Errorf("%w: %w", shuffle.ErrTransientTransport, err)
	case errors.Is(err, store.ErrStoreClosed):
		return fmt.Errorf("%w: %w", shuffle.ErrClosed, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", shuffle.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", shuffle.ErrCancelled, err)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		// Local map-output files; another attempt cannot fix them.
		return err
	}

	if isNetworkError(err) {
		return fmt.Errorf("%w: %w", shuffle.ErrTransientTransport, err)
	}
	return err
}

// isNetworkError matches failures of the network itself. A bare net.Error
// is not enough: syscall.Errno implements it, so every *fs.PathError would
// match.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryable reports whether a new attempt of the failed transfer may
// succeed. Missing blocks and configuration errors are not retryable.
func IsRetryable(err error) bool {
	return shuffle.IsTransient(Classify(err))
}
