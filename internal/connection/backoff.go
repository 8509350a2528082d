package connection

import (
	"math"
	"math/rand"
	"time"
)

const (
	// DefaultBackoffCap bounds the exponential growth of reconnect delays.
	DefaultBackoffCap = 30 * time.Second

	// DefaultBackoffJitter is the fraction of random spread added on top of
	// the exponential delay to keep reconnecting clients from stampeding.
	DefaultBackoffJitter = 0.2
)

// Backoff computes reconnect delays: base * 2^(attempt-1), capped, plus
// jitter. The zero value is usable and falls back to the defaults.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
	Rand   func() float64 // nil means math/rand
}

// Delay returns the wait before the given attempt. Attempts count from 1;
// values below 1 are treated as 1. Jitter is additive, so the result is in
// [capped, capped*(1+Jitter)] and the cap bounds the pre-jitter delay only.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	max := b.Cap
	if max <= 0 {
		max = DefaultBackoffCap
	}
	random := b.Rand
	if random == nil {
		random = rand.Float64
	}

	d := float64(base) * math.Pow(2, float64(attempt-1))
	if d > float64(max) {
		d = float64(max)
	}
	d *= 1 + b.Jitter*random()
	return time.Duration(d)
}
