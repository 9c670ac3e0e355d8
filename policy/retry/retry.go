package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config controls exponential retries. The first retry waits
// InitialInterval and each later one doubles it, capped at MaxInterval.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	ShouldRetry     func(error) bool
}

// Notify is called before each retry with the failed attempt's error, the
// one-based number of the attempt that failed and the wait before the next.
type Notify func(err error, attempt int, next time.Duration)

// Do runs op until it succeeds, ShouldRetry rejects its error, attempts run
// out, or ctx is done. The last operation error is returned.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context, attempt int) error, notify Notify) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	attempts := normalizedAttempts(cfg.MaxAttempts)
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if !shouldRetry(ctx, cfg, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, next time.Duration) {
			notify(err, attempt, next)
		}
	}

	return backoff.RetryNotify(operation, newBackOff(ctx, cfg, attempts), onRetry)
}

func newBackOff(ctx context.Context, cfg Config, attempts int) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = cfg.InitialInterval
	if exponential.InitialInterval <= 0 {
		exponential.InitialInterval = time.Millisecond
	}
	exponential.MaxInterval = cfg.MaxInterval
	if exponential.MaxInterval <= 0 {
		exponential.MaxInterval = time.Hour
	}
	exponential.Multiplier = 2
	exponential.RandomizationFactor = 0
	exponential.MaxElapsedTime = 0
	exponential.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(attempts-1)), ctx)
}

func normalizedAttempts(maxAttempts int) int {
	if maxAttempts < 1 {
		return 1
	}
	return maxAttempts
}

func shouldRetry(ctx context.Context, cfg Config, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if cfg.ShouldRetry == nil {
		return true
	}
	return cfg.ShouldRetry(err)
}
