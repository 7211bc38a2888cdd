package flow

import (
	"math/rand"
	"testing"
	"time"
)

func TestComputeBackoff(t *testing.T) {
	t.Run("exponential growth without jitter", func(t *testing.T) {
		spec := RetrySpec{
			Backoff:    100 * time.Millisecond,
			Multiplier: 2.0,
			NoJitter:   true,
		}

		wants := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
		}
		for attempt, want := range wants {
			if got := computeBackoff(attempt, spec, nil); got != want {
				t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
			}
		}
	})

	t.Run("jitter stays within half to full delay", func(t *testing.T) {
		spec := RetrySpec{
			Backoff:    100 * time.Millisecond,
			Multiplier: 2.0,
		}
		rng := rand.New(rand.NewSource(42))

		for attempt := 0; attempt < 4; attempt++ {
			base := time.Duration(float64(100*time.Millisecond) * pow2(attempt))
			got := computeBackoff(attempt, spec, rng)
			if got < base/2 || got > base {
				t.Errorf("attempt %d: jittered delay %v outside [%v, %v]", attempt, got, base/2, base)
			}
		}
	})

	t.Run("seeded rng is deterministic", func(t *testing.T) {
		spec := RetrySpec{Backoff: 50 * time.Millisecond, Multiplier: 3.0}

		a := computeBackoff(2, spec, rand.New(rand.NewSource(7)))
		b := computeBackoff(2, spec, rand.New(rand.NewSource(7)))
		if a != b {
			t.Errorf("same seed produced different delays: %v != %v", a, b)
		}
	})
}

func pow2(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 2
	}
	return out
}

func TestRetrySpecValidate(t *testing.T) {
	cases := []struct {
		name    string
		spec    RetrySpec
		wantErr bool
	}{
		{"zero value is valid", RetrySpec{}, false},
		{"explicit values are valid", RetrySpec{MaxAttempts: 5, Backoff: time.Second, Multiplier: 1.5}, false},
		{"negative attempts rejected", RetrySpec{MaxAttempts: -1}, true},
		{"negative multiplier rejected", RetrySpec{Multiplier: -2}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestRetrySpecNormalized(t *testing.T) {
	got := (&RetrySpec{}).normalized()
	if got.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("expected default MaxAttempts %d, got %d", DefaultMaxAttempts, got.MaxAttempts)
	}
	if got.Backoff != DefaultBackoff {
		t.Errorf("expected default Backoff %v, got %v", DefaultBackoff, got.Backoff)
	}
	if got.Multiplier != DefaultMultiplier {
		t.Errorf("expected default Multiplier %v, got %v", DefaultMultiplier, got.Multiplier)
	}

	kept := (&RetrySpec{MaxAttempts: 7, Backoff: time.Second, Multiplier: 1.1}).normalized()
	if kept.MaxAttempts != 7 || kept.Backoff != time.Second || kept.Multiplier != 1.1 {
		t.Errorf("normalized overwrote explicit values: %+v", kept)
	}
}
