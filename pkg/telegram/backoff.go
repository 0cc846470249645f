package telegram

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default retry policy: delays of 1s, 3s and 9s, then give up.
const (
	DefaultInitialInterval = time.Second
	DefaultMultiplier      = 3
	DefaultMaxRetries      = 3
)

// NewBackOff returns the retry policy: exponential from initial, growing by
// multiplier, without jitter, stopping after maxRetries delays.
func NewBackOff(initial time.Duration, multiplier float64, maxRetries uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.MaxInterval = initial
	if maxRetries > 1 {
		b.MaxInterval = time.Duration(float64(initial) * math.Pow(multiplier, float64(maxRetries-1)))
	}
	b.Reset()
	return backoff.WithMaxRetries(b, maxRetries)
}
