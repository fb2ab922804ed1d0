package engine

import "time"

const (
	DefaultMaxRetries  = 5
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 5 * time.Minute
	DefaultSyncTimeout = 30 * time.Second
)

// RetryPolicy bounds how often a failing entry is retried.
//
// After the nth consecutive failure, automatic flushes wait
// Base * 2^(n-1), capped at Max. An entry that has failed MaxRetries times
// is parked: it is no longer flushed and needs manual resolution through
// RetryEntry or DiscardEntry. MaxRetries <= 0 retries forever.
//
// Manual Flush calls ignore the backoff delay but not the parking limit.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		Base:       DefaultBackoffBase,
		Max:        DefaultBackoffMax,
	}
}

// Backoff returns the delay after the given number of consecutive failures.
// Returns 0 for failures <= 0.
func (p RetryPolicy) Backoff(failures int) time.Duration {
	if failures <= 0 || p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < failures; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Exhausted reports whether an entry with the given attempt count is parked.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxRetries > 0 && attempts >= p.MaxRetries
}
