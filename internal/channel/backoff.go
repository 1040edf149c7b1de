package channel

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffOptions selects the reconnect delay policy. The zero value keeps the
// fixed ReconnectDelay between every attempt. Either way retries never stop.
type BackoffOptions struct {
	// Exponential grows the delay from ReconnectDelay by Multiplier after each
	// failed attempt, capped at Max, and resets once a connection succeeds.
	Exponential bool
	Max         time.Duration
	Multiplier  float64
	// Jitter is the randomization factor in [0, 1): each delay is drawn from
	// [d*(1-Jitter), d*(1+Jitter)].
	Jitter float64
}

func newPolicy(delay time.Duration, opts BackoffOptions) (backoff.BackOff, error) {
	if !opts.Exponential {
		return backoff.NewConstantBackOff(delay), nil
	}

	if opts.Max == 0 {
		opts.Max = 12 * delay
	}
	if opts.Multiplier == 0 {
		opts.Multiplier = 2
	}
	if opts.Max < delay {
		return nil, errors.New("channel: backoff max must be >= reconnect delay")
	}
	if opts.Multiplier < 1 {
		return nil, errors.New("channel: backoff multiplier must be >= 1")
	}
	if opts.Jitter < 0 || opts.Jitter >= 1 {
		return nil, errors.New("channel: backoff jitter must be in [0, 1)")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = opts.Max
	b.Multiplier = opts.Multiplier
	b.RandomizationFactor = opts.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return capped{BackOff: b, max: opts.Max}, nil
}

// capped clamps every delay to max. ExponentialBackOff jitters after applying
// MaxInterval.
type capped struct {
	backoff.BackOff
	max time.Duration
}

func (c capped) NextBackOff() time.Duration {
	d := c.BackOff.NextBackOff()
	if d != backoff.Stop && d > c.max {
		return c.max
	}
	return d
}
