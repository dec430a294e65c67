// Package retry provides an exponential backoff helper for polling
// loops that should slow down while the backend or the network is
// failing and recover their normal cadence on the first success.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff produces exponentially growing delays with jitter. The zero
// value is not usable; construct with NewBackoff.
type Backoff struct {
	attempt      int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       bool
	rng          *rand.Rand
}

// NewBackoff creates a Backoff with default settings: 1s initial, 30s
// cap, doubling, +/- 20% jitter.
func NewBackoff() *Backoff {
	return &Backoff{
		initialDelay: 1 * time.Second,
		maxDelay:     30 * time.Second,
		multiplier:   2.0,
		jitter:       true,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithInitialDelay sets the initial delay.
func (b *Backoff) WithInitialDelay(d time.Duration) *Backoff {
	b.initialDelay = d
	return b
}

// WithMaxDelay sets the maximum delay.
func (b *Backoff) WithMaxDelay(d time.Duration) *Backoff {
	b.maxDelay = d
	return b
}

// WithJitter enables or disables jitter.
func (b *Backoff) WithJitter(j bool) *Backoff {
	b.jitter = j
	return b
}

// Next returns the next delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(b.attempt))

	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}

	if b.jitter {
		jitter := delay * 0.2 * (b.rng.Float64()*2 - 1)
		delay += jitter
	}

	b.attempt++

	return time.Duration(delay)
}

// Reset restores the initial cadence. Called on the first success
// after a failing stretch.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the current attempt number.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// SleepContext waits for the next backoff duration or until the
// context is cancelled.
func (b *Backoff) SleepContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.Next()):
		return nil
	}
}
