package personality

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/Abeyoo/Final-ID8-sub001/core"
)

// RetryConfig configures the retries of transient scorer failures.
type RetryConfig struct {
	MaxAttempts  int           // retries after the first call (default: 3)
	BaseDelay    time.Duration // base delay for exponential backoff (default: 200ms)
	MaxDelay     time.Duration // maximum delay between retries (default: 5s)
	JitterFactor float64       // randomization of each delay (default: 0.25 = ±25%)
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.25,
	}
}

func NewRetryConfig(conf core.RetryConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if conf.MaxAttempts >= 0 {
		rc.MaxAttempts = conf.MaxAttempts
	}
	if conf.BaseDelay > 0 {
		rc.BaseDelay = conf.BaseDelay
	}
	if conf.MaxDelay > 0 {
		rc.MaxDelay = conf.MaxDelay
	}
	if conf.JitterFactor >= 0 {
		rc.JitterFactor = conf.JitterFactor
	}
	return rc
}

// sleepFunc waits for d or until ctx is done.
var sleepFunc = func(ctx context.Context, d time.Duration) error { // mockable
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoff returns the delay before retry number attempt (0-based).
func (rc RetryConfig) backoff(attempt int) time.Duration {
	delay := float64(rc.BaseDelay) * math.Pow(2, float64(attempt))
	if rc.MaxDelay > 0 && delay > float64(rc.MaxDelay) {
		delay = float64(rc.MaxDelay)
	}
	if rc.JitterFactor > 0 {
		jitter := delay * rc.JitterFactor
		delay += jitter * (2*rand.Float64() - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// retryTransient calls fn until it succeeds, fails with a non transient error or runs out of retries.
// Only ErrScoringUnavailable is retried.
func retryTransient[T any](
	ctx context.Context,
	rc RetryConfig,
	fn func(ctx context.Context) (T, error),
	onFailure func(attempt int, err error),
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= rc.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if onFailure != nil {
			onFailure(attempt+1, err)
		}
		if !errors.Is(err, ErrScoringUnavailable) {
			return zero, err
		}

		// no sleep after the last attempt
		if attempt == rc.MaxAttempts {
			break
		}
		if err := sleepFunc(ctx, rc.backoff(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, errors.Wrap(lastErr, fmt.Sprintf("giving up after %d attempts", rc.MaxAttempts+1))
}
