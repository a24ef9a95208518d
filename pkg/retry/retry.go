// Package retry runs operations under a capped exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds the number of attempts and the wait between them.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy is used for datastore writes and gateway sends.
var DefaultPolicy = Policy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2,
}

// Permanent wraps err so Do stops immediately and returns err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func (p Policy) options() []backoff.RetryOption {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 1 {
		eb.Multiplier = p.Multiplier
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return []backoff.RetryOption{
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
}

// Do calls op until it succeeds, returns a Permanent error, the attempt cap is
// reached or ctx is done. It returns the number of attempts made and the last error.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) (int, error) {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, op(attempt)
	}, p.options()...)
	return attempt, err
}
