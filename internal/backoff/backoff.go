// Package backoff provides bounded retry with linear or exponential
// delay growth for streaming turn attempts.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Growth selects how the delay scales across attempts.
type Growth int

const (
	// GrowthLinear scales the delay as InitialDelay * attempt.
	GrowthLinear Growth = iota
	// GrowthExponential doubles the delay after every failed attempt.
	GrowthExponential
)

// Policy configures retry behavior for one logical operation.
type Policy struct {
	// MaxAttempts is the total attempt budget including the first try.
	MaxAttempts int
	// InitialDelay is the delay after the first failure; subsequent
	// delays grow per the Growth mode.
	InitialDelay time.Duration
	// Growth selects linear (default) or exponential delay growth.
	Growth Growth
	// MaxDelay caps the per-attempt delay.
	MaxDelay time.Duration
	// Jitter randomizes each delay into [0.5, 1.5] of its value.
	Jitter bool
	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable retries everything.
	Retryable func(error) bool
	// OnRetry, if set, is called before each sleep with the upcoming
	// attempt number (2-based) and the error that caused it.
	OnRetry func(nextAttempt int, err error)
}

// DefaultPolicy is the turn engine's budget: one retry after the initial
// attempt, with a one second base delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  2,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// Result reports the outcome of a retried operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error, nil on success.
	Err error
}

// Do runs op under the policy. It returns as soon as op succeeds, the
// attempt budget is spent, a non-retryable error occurs, or the context
// is done.
func Do(ctx context.Context, policy Policy, op func() error) Result {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}

	result := Result{}
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result.Attempts = attempt
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			return result
		}

		err := op()
		if err == nil {
			result.Err = nil
			return result
		}
		result.Err = err

		if policy.Retryable != nil && !policy.Retryable(err) {
			return result
		}
		if attempt >= policy.MaxAttempts {
			break
		}

		var sleep time.Duration
		if policy.Growth == GrowthExponential {
			sleep = policy.InitialDelay << (attempt - 1)
		} else {
			sleep = policy.InitialDelay * time.Duration(attempt)
		}
		if sleep > policy.MaxDelay || sleep <= 0 {
			sleep = policy.MaxDelay
		}
		if policy.Jitter {
			jitterFactor := 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
			sleep = time.Duration(float64(sleep) * jitterFactor)
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, err)
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		case <-time.After(sleep):
		}
	}
	return result
}
