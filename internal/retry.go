package internal

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/iksnae/review-sweep/internal/clock"
)

// RetryPolicy bounds the retries of one adapter call
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// DefaultRetryPolicy is used when the config leaves retry unset.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}

// RetryController retries transient failures with exponential backoff
// and jitter. It holds only configuration and is safe for concurrent use.
type RetryController struct {
	policy RetryPolicy
	clock  clock.Clock
	jitter func() float64
}

// NewRetryController creates a RetryController. A nil clock means the
// real clock.
func NewRetryController(policy RetryPolicy, clk clock.Clock) *RetryController {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &RetryController{
		policy: policy,
		clock:  clk,
		jitter: func() float64 { return 0.8 + rand.Float64()*0.4 },
	}
}

// Policy returns the configured policy.
func (rc *RetryController) Policy() RetryPolicy {
	return rc.policy
}

// Delay returns the backoff before retry number attempt (0-based):
// base * 2^attempt * jitter, jitter in [0.8, 1.2).
func (rc *RetryController) Delay(attempt int) time.Duration {
	if rc.policy.BaseDelay <= 0 {
		return 0
	}
	d := float64(rc.policy.BaseDelay) * float64(int64(1)<<uint(attempt)) * rc.jitter()
	return time.Duration(d)
}

// Execute runs op until it succeeds, fails with a non-transient error,
// or has failed transiently MaxAttempts times. In the last case the
// returned error is a *TerminalFailure carrying the last error.
func (rc *RetryController) Execute(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < rc.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := rc.Delay(attempt - 1)
			LogDebug("Retrying %s in %v (attempt %d/%d): %v", name, delay, attempt+1, rc.policy.MaxAttempts, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-rc.clock.After(delay):
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return &TerminalFailure{Op: name, Attempts: rc.policy.MaxAttempts, Err: lastErr}
}

// Retry is Execute for operations that return a value.
func Retry[T any](ctx context.Context, rc *RetryController, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := rc.Execute(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
