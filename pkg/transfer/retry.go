package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

// RetryPolicy bounds caller-side retries.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration

	// MaxRetries caps the number of retries after the first attempt. Zero
	// means no cap beyond MaxElapsedTime.
	MaxRetries uint64
}

// DefaultRetryPolicy retries for up to two minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     15 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
		MaxRetries:      5,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = p.MaxElapsedTime

	var b backoff.BackOff = eb
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, p.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// UploadWithRetry uploads mo and retries transient failures. Each attempt
// is an independent task with its own lifecycle events.
func UploadWithRetry(ctx context.Context, c *Client, mo shuffle.MapOutput, p RetryPolicy) (*UploadResult, error) {
	return retry(ctx, p, "upload", mo.ID(), func() (*Future[*UploadResult], error) {
		return c.UploadMapOutput(ctx, mo)
	})
}

// DownloadWithRetry downloads id and retries transient failures. Missing
// blocks are not retried.
func DownloadWithRetry(ctx context.Context, c *Client, id shuffle.BlockID, p RetryPolicy) (*DownloadResult, error) {
	return retry(ctx, p, "download", id, func() (*Future[*DownloadResult], error) {
		return c.DownloadBlock(ctx, id)
	})
}

func retry[T any](ctx context.Context, p RetryPolicy, op string, id shuffle.BlockID, submit func() (*Future[T], error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		var zero T

		f, err := submit()
		if err != nil {
			if errors.Is(err, shuffle.ErrQueueFull) {
				return zero, err
			}
			return zero, backoff.Permanent(err)
		}
		val, err := f.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				f.Cancel()
				return zero, backoff.Permanent(err)
			}
			if !IsRetryable(err) {
				return zero, backoff.Permanent(err)
			}
			return zero, err
		}
		return val, nil
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnCtx(ctx, "Transfer failed, retrying",
			"op", op, "block", id.String(), "attempt", attempt,
			"retry_in_ms", wait.Milliseconds(), logger.Err(err))
	}

	return backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
}
