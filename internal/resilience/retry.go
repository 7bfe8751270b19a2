package resilience

import (
	"errors"
	"math"
	"time"
)

// PermanentError marks an error that must not be retried
type PermanentError interface {
	error
	Permanent() bool
}

// IsPermanent reports whether err, or any error it wraps, is permanent
func IsPermanent(err error) bool {
	var p PermanentError
	return errors.As(err, &p) && p.Permanent()
}

// RetryPolicy is a bounded exponential backoff schedule
type RetryPolicy struct {
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy waits 500ms, 1s, ... between at most 3 attempts
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 3,
	}
}

// Delay returns the wait after the given failed attempt (1-based):
// BaseDelay * Factor^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Decision is what to do after a failed attempt
type Decision struct {
	Retry     bool
	Delay     time.Duration
	Permanent bool
}

// Decide classifies a failed attempt. Permanent errors stop immediately;
// everything else, including ErrCircuitOpen, retries until the attempt budget
// (the smaller of maxAttempts and the policy's own limit, when set) is spent.
func (p RetryPolicy) Decide(attempt, maxAttempts int, err error) Decision {
	if IsPermanent(err) {
		return Decision{Permanent: true}
	}
	limit := maxAttempts
	if p.MaxAttempts > 0 && (limit <= 0 || p.MaxAttempts < limit) {
		limit = p.MaxAttempts
	}
	if attempt >= limit {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Delay(attempt)}
}
