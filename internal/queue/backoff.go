package queue

import (
	"math"
	"time"
)

// Backoff spaces out retries of a failed item. The zero value disables it.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialBackoff builds a doubling backoff capped at max.
func NewExponentialBackoff(base, max time.Duration) Backoff {
	return Backoff{Base: base, Max: max}
}

// Delay returns how long an item with the given attempt count must rest before
// it is drained again: base * 2^(attempts-1), capped.
func (b Backoff) Delay(attempts int) time.Duration {
	if b.Base <= 0 || attempts <= 0 {
		return 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempts-1))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
