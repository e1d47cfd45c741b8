package embedding

import "time"

// BackoffFunc returns how long to wait after the given failed attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// RetryPolicy bounds how long and how often a provider is called.
type RetryPolicy struct {
	MaxAttempts       int
	PerAttemptTimeout time.Duration
	Backoff           BackoffFunc
	// RateLimitBackoff is used instead of Backoff after a throttled attempt.
	RateLimitBackoff BackoffFunc
}

// ExponentialBackoff returns base·2^(attempt-1), capped at max when max > 0.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if max > 0 && d >= max {
				return max
			}
		}
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// DefaultRetryPolicy is three attempts of 30s each, 1s/2s backoff and
// 5s/10s after throttling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		PerAttemptTimeout: 30 * time.Second,
		Backoff:           ExponentialBackoff(time.Second, 30*time.Second),
		RateLimitBackoff:  ExponentialBackoff(5*time.Second, 60*time.Second),
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.PerAttemptTimeout <= 0 {
		p.PerAttemptTimeout = d.PerAttemptTimeout
	}
	if p.Backoff == nil {
		p.Backoff = d.Backoff
	}
	if p.RateLimitBackoff == nil {
		p.RateLimitBackoff = p.Backoff
	}
	return p
}

func (p RetryPolicy) wait(kind FailureKind, attempt int) time.Duration {
	if kind == FailureRateLimited {
		return p.RateLimitBackoff(attempt)
	}
	return p.Backoff(attempt)
}

// WorstCase is the upper bound on one Generate call when every attempt times
// out: MaxAttempts × PerAttemptTimeout plus the backoffs between them.
func (p RetryPolicy) WorstCase() time.Duration {
	p = p.withDefaults()
	total := time.Duration(p.MaxAttempts) * p.PerAttemptTimeout
	for i := 1; i < p.MaxAttempts; i++ {
		total += p.Backoff(i)
	}
	return total
}
