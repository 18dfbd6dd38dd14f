package llm

import (
	"context"
	"math"
	"time"

	"cyberredd/internal/cerr"
)

// RetryPolicy implements the backoff schedule from spec §4.6 step 6.
type RetryPolicy struct {
	MaxRetries int
	Backoff    []time.Duration // [1,2,4] seconds by default
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
}

func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	if attempt < len(p.Backoff) {
		return p.Backoff[attempt]
	}
	if len(p.Backoff) == 0 {
		return time.Duration(math.Pow(2, float64(attempt))) * time.Second
	}
	return p.Backoff[len(p.Backoff)-1]
}

// isRetryable reports whether err counts toward the circuit breaker's
// consecutive-failure counter and should be retried.
func isRetryable(err error) bool {
	switch err.(type) {
	case *cerr.LLMTimeoutError, *cerr.LLMProviderUnavailable:
		return true
	default:
		return false
	}
}

// sleepOrDone waits for d or ctx cancellation, whichever comes first.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cappedRetryAfter(seconds float64) time.Duration {
	d := time.Duration(seconds * float64(time.Second))
	maxWait := 60 * time.Second
	if d > maxWait {
		return maxWait
	}
	if d < 0 {
		return 0
	}
	return d
}
