package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_NextDelayRanges(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 3,
	}

	cases := []struct {
		attempt int
		min     time.Duration
		max     time.Duration // exclusive
	}{
		{1, 100 * time.Millisecond, 150 * time.Millisecond},
		{2, 200 * time.Millisecond, 250 * time.Millisecond},
		{3, 400 * time.Millisecond, 450 * time.Millisecond},
	}

	// Jitter is random, so sample each attempt a number of times.
	for _, tc := range cases {
		for i := 0; i < 100; i++ {
			delay := policy.NextDelay(tc.attempt)
			assert.GreaterOrEqual(t, delay, tc.min, "attempt %d", tc.attempt)
			assert.Less(t, delay, tc.max, "attempt %d", tc.attempt)
		}
	}
}

func TestRetryPolicy_NextDelayClamped(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 100,
	}

	jitterBound := policy.BaseDelay / 2
	for _, attempt := range []int{4, 10, 40, 100, 1000} {
		delay := policy.NextDelay(attempt)
		assert.GreaterOrEqual(t, delay, policy.MaxDelay)
		assert.Less(t, delay, policy.MaxDelay+jitterBound)
	}
}

func TestRetryPolicy_NextDelayNormalizesAttempt(t *testing.T) {
	policy := DefaultRetryPolicy()

	// Attempts below 1 behave like the first attempt.
	delay := policy.NextDelay(0)
	assert.GreaterOrEqual(t, delay, policy.BaseDelay)
	assert.Less(t, delay, policy.BaseDelay+policy.BaseDelay/2)
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Second, MaxAttempts: 3}

	assert.True(t, policy.ShouldRetry(1))
	assert.True(t, policy.ShouldRetry(2))
	assert.False(t, policy.ShouldRetry(3))
	assert.False(t, policy.ShouldRetry(4))
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, 100*time.Millisecond, policy.BaseDelay)
	assert.Equal(t, 60*time.Second, policy.MaxDelay)
	assert.Equal(t, 3, policy.MaxAttempts)
}
