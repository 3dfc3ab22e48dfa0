package runner

import (
	"context"
	"errors"
	"time"
)

var errNoAttempts = errors.New("retryWithBackoff: MaxAttempts must be > 0")

// RetryConfig controls the retry behavior of retryWithBackoff.
type RetryConfig struct {
	MaxAttempts int           // required, must be > 0
	BaseDelay   time.Duration // initial backoff delay
	MaxDelay    time.Duration // cap on delay (defaults to 10s if zero)
}

// retryWithBackoff calls fn up to cfg.MaxAttempts times with exponential
// backoff. Only infrastructure errors are retried: a plugin error envelope
// or a missing answer fails at once.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		return errNoAttempts
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 10 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if Category(lastErr) != ErrCatInfrastructure {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := min(cfg.BaseDelay<<uint(attempt), cfg.MaxDelay)
		if err := contextSleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// PollConfig controls poll.
type PollConfig struct {
	Attempts int
	Interval time.Duration
}

// DefaultPoll gives the plugin a few seconds to reflect an action.
var DefaultPoll = PollConfig{Attempts: 10, Interval: 500 * time.Millisecond}

// poll calls fn until it succeeds, a plugin error stops it, or the
// attempts are exhausted. Mismatches and infrastructure errors are
// retried at a fixed interval. Exhaustion returns a *TimeoutError.
func poll(ctx context.Context, what string, cfg PollConfig, fn func() error) (int, error) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return attempt, nil
		}
		if Category(lastErr) == ErrCatPlugin {
			return attempt, lastErr
		}
		if attempt == cfg.Attempts {
			break
		}
		if err := contextSleep(ctx, cfg.Interval); err != nil {
			return attempt, &TimeoutError{What: what, Attempts: attempt, Last: lastErr}
		}
	}
	return cfg.Attempts, &TimeoutError{What: what, Attempts: cfg.Attempts, Last: lastErr}
}

// contextSleep waits for the given duration or until the context is done,
// whichever comes first. Returns ctx.Err() if the context was cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
