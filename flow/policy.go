package flow

import (
	"math"
	"math/rand"
	"time"
)

// Default retry parameters, applied when a RetrySpec leaves them zero.
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 150 * time.Millisecond
	DefaultMultiplier  = 2.0
)

// RetrySpec defines automatic retry configuration for failed step effects.
//
// When an effect fails, the executor re-enqueues the step after an
// exponentially growing delay until MaxAttempts executions have been
// spent. Delays are scheduled on timers, not inside the pump loop, so the
// instance returns to idle between a failed attempt and its retry.
//
// A nil *RetrySpec on a StepDefinition disables retries entirely.
type RetrySpec struct {
	// MaxAttempts is the total number of executions allowed, including
	// the first. Must be >= 1; 0 means the default of 3.
	MaxAttempts int `json:"maxAttempts,omitempty"`

	// Backoff is the delay before the first retry. 0 means the default
	// of 150ms.
	Backoff time.Duration `json:"backoffMs,omitempty"`

	// Multiplier scales the delay for each subsequent retry:
	// delay = Backoff * Multiplier^(attempt-1). 0 means the default of 2.
	Multiplier float64 `json:"multiplier,omitempty"`

	// NoJitter disables the uniform random factor in [0.5, 1.0] applied
	// to each delay. Jitter is on by default to avoid synchronized
	// retry storms.
	NoJitter bool `json:"noJitter,omitempty"`
}

// Validate checks the spec's constraints: MaxAttempts must not be
// negative, and Multiplier must not shrink delays below zero growth.
func (r *RetrySpec) Validate() error {
	if r.MaxAttempts < 0 {
		return &FlowError{Message: "retry maxAttempts cannot be negative", Code: "INVALID_RETRY"}
	}
	if r.Multiplier < 0 {
		return &FlowError{Message: "retry multiplier cannot be negative", Code: "INVALID_RETRY"}
	}
	return nil
}

// normalized returns a copy with defaults filled in.
func (r *RetrySpec) normalized() RetrySpec {
	out := *r
	if out.MaxAttempts == 0 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	if out.Backoff == 0 {
		out.Backoff = DefaultBackoff
	}
	if out.Multiplier == 0 {
		out.Multiplier = DefaultMultiplier
	}
	return out
}

// computeBackoff calculates the delay before re-enqueueing a failed step.
//
// attempt is zero-based: 0 for the first retry, 1 for the second, and so
// on. The delay grows as Backoff * Multiplier^attempt and, unless jitter
// is disabled, is multiplied by a uniform random factor in [0.5, 1.0] to
// spread concurrent retries apart.
func computeBackoff(attempt int, spec RetrySpec, rng *rand.Rand) time.Duration {
	delay := float64(spec.Backoff) * math.Pow(spec.Multiplier, float64(attempt))

	if !spec.NoJitter {
		var factor float64
		if rng != nil {
			factor = 0.5 + rng.Float64()*0.5
		} else {
			// Note: math/rand for retry spread, not security-sensitive
			factor = 0.5 + rand.Float64()*0.5 // #nosec G404
		}
		delay *= factor
	}

	return time.Duration(delay)
}
