// Package retry runs an operation a bounded number of times with
// exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
	After               // rate-limited, use longer backoff
)

type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	RateLimitBackoff time.Duration
	OnRetry          func(attempt int, err error, backoff time.Duration)
}

type Classify func(err error) Action

// Do calls op until it succeeds, classify says Stop, or MaxAttempts is
// reached. The last error is returned wrapped.
func Do[T any](ctx context.Context, p Policy, classify Classify, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	backoff := p.InitialBackoff

	for attempt := 1; ; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}

		action := classify(err)
		if action == Stop {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}

		wait := backoff
		if action == After && p.RateLimitBackoff > 0 {
			wait = p.RateLimitBackoff
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		select {
		case <-time.After(wait):
			backoff *= 2
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
}
