// Package backoff computes retry delays for the executor. Delays grow
// exponentially from a base, are capped, and then receive up to JitterFraction
// of one-sided uniform jitter so concurrent callers do not retry in lockstep.
package backoff

import (
	"math/rand"
	"time"
)

// JitterFraction bounds the uniform jitter added on top of the capped delay.
// delay(k) never exceeds min(max, base*multiplier^(k-1)) * (1+JitterFraction).
const JitterFraction = 0.25

// Delay returns the backoff for attempt (1-based). jitter toggles the random
// component; with jitter off the result is exactly the capped exponential.
func Delay(attempt int, base, max time.Duration, multiplier float64, jitter bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the exponent to keep the float math from overflowing.
	exp := attempt - 1
	if exp > 30 {
		exp = 30
	}

	d := time.Duration(float64(base) * pow(multiplier, exp))
	if d < 0 || d > max {
		d = max
	}

	if jitter && d > 0 {
		d += time.Duration(float64(d) * JitterFraction * rand.Float64())
	}
	return d
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
