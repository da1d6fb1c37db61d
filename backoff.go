package outbox

import (
	"math/rand"
	"time"
)

const (
	defaultBaseDelay   = 100 * time.Millisecond
	defaultMaxDelay    = 60 * time.Second
	defaultMaxAttempts = 3

	// maxShift bounds the exponent so the doubling can never overflow a
	// Duration before the MaxDelay clamp applies.
	maxShift = 32
)

// RetryPolicy computes the delay sequence between delivery attempts and
// decides when to give up. The delay for attempt n is
// BaseDelay * 2^(n-1), clamped to MaxDelay, plus a uniformly random jitter
// in [0, BaseDelay/2).
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy returns a policy with 100ms base delay, a 60s delay
// cap and 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
		MaxAttempts: defaultMaxAttempts,
	}
}

// NextDelay returns the backoff delay after the given failed attempt.
// Attempts are counted from 1.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.MaxDelay
	if shift := uint(attempt - 1); shift < maxShift {
		exp := p.BaseDelay << shift
		if exp > 0 && exp < p.MaxDelay {
			delay = exp
		}
	}

	if jitterRange := int64(p.BaseDelay / 2); jitterRange > 0 {
		delay += time.Duration(rand.Int63n(jitterRange))
	}
	return delay
}

// ShouldRetry reports whether another attempt is allowed after attempt
// failures.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}
