package s3

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/dittoshuffle/pkg/store"
)

var transientCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"RequestThrottled":                       true,
	"SlowDown":                               true,
	"ProvisionedThroughputExceededException": true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
	"InternalError":                          true,
	"ServiceUnavailable":                     true,
	"ServiceException":                       true,
	"InternalServiceException":               true,
}

// wrapErr maps an SDK error onto the store sentinels while keeping the
// original error in the chain.
func wrapErr(op, key string, err error) error {
	switch {
	case isNotFound(err):
		return fmt.Errorf("%w: s3 %s %s: %w", store.ErrObjectNotFound, op, key, err)
	case isInvalidRange(err):
		return fmt.Errorf("%w: s3 %s %s: %w", store.ErrInvalidRange, op, key, err)
	case isTransient(err):
		return fmt.Errorf("%w: s3 %s %s: %w", store.ErrTransient, op, key, err)
	default:
		return fmt.Errorf("s3 %s %s: %w", op, key, err)
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return transientCodes[apiErr.ErrorCode()]
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "StatusCode: 503") ||
		strings.Contains(msg, "StatusCode: 500")
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "404":
			return true
		}
	}
	return false
}

func isInvalidRange(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange"
}
