package llm

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy is an explicit retry configuration passed to the client rather
// than baked into each call site. Zero-valued fields fall back to the
// defaults from DefaultRetryPolicy.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt; it doubles on
	// each subsequent attempt. Default: 2s.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling. Default: 30s.
	MaxBackoff time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Default: any *TransientError.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the production defaults: 3 attempts, exponential
// backoff from 2s capped at 30s, retrying transient backend failures only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Retryable: func(err error) bool {
			var te *TransientError
			return errors.As(err, &te)
		},
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Retryable == nil {
		p.Retryable = d.Retryable
	}
	return p
}

// Do runs fn under the policy. Non-retryable errors are returned immediately;
// retryable ones are re-attempted after the backoff wait, respecting ctx
// cancellation between attempts.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.Retryable(lastErr) || attempt == p.MaxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}

	return lastErr
}
