// Package retry provides the exponential backoff driver shared by the HTTP
// client, the GraphQL client and websocket reconnection.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff yields exponentially increasing delays with multiplicative jitter:
//
//	delay = base^steps * U(1-variance, 1+variance) + shift
//
// capped at Max. The step counter does not advance while the cap is being
// returned, so a long outage does not inflate the exponent. Not safe for
// concurrent use; each retry loop owns its Backoff.
type Backoff struct {
	base        float64
	varianceMin float64
	varianceMax float64
	shift       time.Duration
	max         time.Duration

	steps int

	// rand returns a value in [0, 1). Injectable for tests.
	rand func() float64
}

// BackoffConfig configures a Backoff. Zero values fall back to the defaults
// noted per field.
type BackoffConfig struct {
	Base     float64       // exponential base, must be > 1; default 2
	Variance float64       // symmetric jitter fraction; default 0.1
	Shift    time.Duration // constant added to every delay; default 0
	Max      time.Duration // cap; default 5m
}

// NewBackoff creates a Backoff at step zero.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Base <= 1 {
		cfg.Base = 2
	}
	if cfg.Variance == 0 {
		cfg.Variance = 0.1
	}
	if cfg.Max <= 0 {
		cfg.Max = 5 * time.Minute
	}
	return &Backoff{
		base:        cfg.Base,
		varianceMin: 1 - cfg.Variance,
		varianceMax: 1 + cfg.Variance,
		shift:       cfg.Shift,
		max:         cfg.Max,
		rand:        rand.Float64,
	}
}

// Next returns the next delay and advances the step counter, unless the
// computed delay exceeded the cap, in which case the cap is returned and the
// counter stays put.
func (b *Backoff) Next() time.Duration {
	jitter := b.varianceMin + b.rand()*(b.varianceMax-b.varianceMin)
	seconds := math.Pow(b.base, float64(b.steps)) * jitter
	value := time.Duration(seconds*float64(time.Second)) + b.shift
	if value > b.max {
		return b.max
	}
	b.steps++
	return value
}

// Steps reports how many delays have been emitted since the last reset,
// not counting capped emissions.
func (b *Backoff) Steps() int {
	return b.steps
}

// Reset returns the backoff to step zero.
func (b *Backoff) Reset() {
	b.steps = 0
}
