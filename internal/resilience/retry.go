// Package resilience provides the retry helper every outbound network
// call in the pipeline goes through.
package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Policy defines retry behavior for an operation.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// ShouldRetry decides whether an error is worth another attempt.
	// A nil ShouldRetry retries everything.
	ShouldRetry func(error) bool

	// OnRetry is invoked before each sleep with the attempt number that
	// just failed and the error it failed with.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy matches the pipeline-wide defaults: three attempts,
// exponential backoff starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
	}
}

// Do runs fn under the policy. It returns nil on the first success, the
// last error once attempts are exhausted or the error is classified as
// non-retryable, and ctx.Err() if the context ends during a backoff wait.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return lastErr
}

// LogRetries returns an OnRetry hook that warns through the given logger.
func LogRetries(log zerolog.Logger, operation string) func(int, error) {
	return func(attempt int, err error) {
		log.Warn().
			Str("operation", operation).
			Int("attempt", attempt).
			Err(err).
			Msg("retrying after failure")
	}
}
