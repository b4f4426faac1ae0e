package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures the capped exponential backoff with full jitter
// used for every transient I/O call site (storage, metastore), per the
// error handling design's default of 30 attempts, 250ms base, 20s cap.
type RetryConfig struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig matches the error-handling design's stated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 30, InitialDelay: 250 * time.Millisecond, MaxDelay: 20 * time.Second}
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialDelay,
		MaxInterval:         c.MaxDelay,
		Multiplier:          2,
		RandomizationFactor: 1, // full jitter
	}
}

// Permanent marks err as non-retryable: Retry returns it immediately without
// exhausting the attempt budget. Use for logical/protocol errors
// (CheckpointMismatch, SplitsNotStaged) surfaced from an otherwise-retried
// call site.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs op with capped exponential backoff and full jitter, honoring
// both ctx and the pipeline's abort signal as cancellation sources.
func Retry[T any](ctx context.Context, abort *AbortSignal, cfg RetryConfig, op func() (T, error)) (T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-abort.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	return backoff.Retry(ctx, func() (T, error) {
		return op()
	}, backoff.WithBackOff(cfg.backOff()), backoff.WithMaxTries(cfg.MaxAttempts))
}
