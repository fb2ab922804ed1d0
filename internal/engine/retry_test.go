package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, Base: time.Second, Max: 10 * time.Second}

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{-1, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{60, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.failures), "failures=%d", tt.failures)
	}
}

func TestRetryPolicy_BackoffUncapped(t *testing.T) {
	p := RetryPolicy{Base: time.Millisecond}
	assert.Equal(t, 8*time.Millisecond, p.Backoff(4))

	assert.Zero(t, RetryPolicy{}.Backoff(3), "no base means no delay")
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3}
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))

	assert.False(t, RetryPolicy{}.Exhausted(1000), "zero max retries forever")
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, DefaultMaxRetries, p.MaxRetries)
	assert.Equal(t, DefaultBackoffBase, p.Base)
	assert.Equal(t, DefaultBackoffMax, p.Max)
}
