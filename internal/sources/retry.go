package sources

import (
	"math"
	"time"
)

// RetryPolicy describes how a source client backs off between attempts.
// The delay for attempt n is BaseDelay * Multiplier^n, capped at MaxDelay.
// The zero value is not usable directly; Normalize fills in defaults.
type RetryPolicy struct {
	// MaxAttempts is how many times a failed call is retried. The initial
	// call is not counted, so MaxAttempts 3 means up to four requests.
	MaxAttempts int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the grown delay.
	MaxDelay time.Duration
	// Multiplier grows the delay between consecutive retries.
	Multiplier float64
}

// DefaultRetryPolicy matches the public Semantic Scholar rate guidance:
// a few attempts with delays that grow from seconds toward the cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   4 * time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
	}
}

// Normalize returns a copy with zero fields replaced by defaults.
func (p RetryPolicy) Normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay returns the wait before retry number attempt, starting at zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}
