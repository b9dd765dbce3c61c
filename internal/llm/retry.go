package llm

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls how a single SendMessage call is retried.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// DefaultRetryPolicy matches the gateway's documented default: 3 retries,
// base 1s, factor 2, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
	}
}

// delayForAttempt returns the backoff duration before retry attempt n
// (n is 1-based: the first retry is attempt 1), exponential with jitter.
func (p RetryPolicy) delayForAttempt(attempt int) time.Duration {
	return backoffDelayWithFactor(attempt, p.InitialDelay, p.MaxDelay, p.BackoffFactor)
}

// backoffDelayWithFactor returns base * factor^(attempt-1) capped at
// maxDelay, with up to 10% jitter added on top.
func backoffDelayWithFactor(attempt int, base, maxDelay time.Duration, factor float64) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	if factor < 1.0 {
		factor = 1.0
	}

	backoff := float64(base) * math.Pow(factor, float64(attempt-1))
	if math.IsNaN(backoff) || math.IsInf(backoff, 0) {
		if maxDelay > 0 {
			backoff = float64(maxDelay)
		} else {
			backoff = float64(base)
		}
	}
	if maxDelay > 0 && backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}
	if backoff < float64(base) {
		backoff = float64(base)
	}

	jitter := 1.0 + (rand.Float64() * 0.1)
	return time.Duration(backoff * jitter)
}

// TransientError marks a failed Backend.Send call as retryable: network
// errors, HTTP 429 (honoring an optional server-supplied Retry-After), and
// HTTP 5xx. Any other error from Backend.Send is treated as a terminal
// ProviderError and is not retried.
type TransientError struct {
	Err        error
	RetryAfter time.Duration // zero means "use the policy's own backoff"
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or something it wraps) is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func transientRetryAfter(err error) time.Duration {
	var t *TransientError
	if errors.As(err, &t) {
		return t.RetryAfter
	}
	return 0
}
