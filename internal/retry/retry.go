// Package retry implements the bounded exponential backoff used for
// reconnecting change feeds and websocket subscribers.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Seednode/teamshuffle/internal/dependencies/clock"
)

// ErrExhausted is returned once every attempt of a Policy has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes a capped exponential backoff. MaxAttempts counts the
// retries that follow the first failure.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     32 * time.Second,
		Multiplier:   2,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 0:
		return fmt.Errorf("invalid retry attempts (must be at least 0): %d", p.MaxAttempts)
	case p.InitialDelay <= 0:
		return fmt.Errorf("invalid retry delay (must be positive): %s", p.InitialDelay)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("invalid retry max delay (must be at least %s): %s", p.InitialDelay, p.MaxDelay)
	case p.Multiplier < 1:
		return fmt.Errorf("invalid retry multiplier (must be at least 1): %g", p.Multiplier)
	}
	return nil
}

// Backoff tracks consecutive failures against a Policy.
type Backoff struct {
	policy   Policy
	exp      *backoff.ExponentialBackOff
	attempts int
}

// Start returns a fresh Backoff for p.
func (p Policy) Start() *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialDelay
	exp.MaxInterval = p.MaxDelay
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = 0
	exp.Reset()

	return &Backoff{policy: p, exp: exp}
}

// Next returns the delay before the next attempt, or false when the
// policy is exhausted.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempts >= b.policy.MaxAttempts {
		return 0, false
	}
	b.attempts++

	return b.exp.NextBackOff(), true
}

// Attempts is the number of retries handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

func (b *Backoff) Reset() {
	b.attempts = 0
	b.exp.Reset()
}

// Delays lists the full schedule of p.
func (p Policy) Delays() []time.Duration {
	b := p.Start()

	out := make([]time.Duration, 0, p.MaxAttempts)
	for d, ok := b.Next(); ok; d, ok = b.Next() {
		out = append(out, d)
	}
	return out
}

// Do runs op until it succeeds, the policy is exhausted or ctx is done.
// notify, when non-nil, is called before every wait.
func Do(ctx context.Context, clk clock.Clock, p Policy, op func(context.Context) error, notify func(err error, attempt int, delay time.Duration)) error {
	b := p.Start()

	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay, ok := b.Next()
		if !ok {
			return fmt.Errorf("%w: %w", ErrExhausted, err)
		}

		if notify != nil {
			notify(err, b.Attempts(), delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(delay):
		}
	}
}
