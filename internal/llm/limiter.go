package llm

import (
	"context"
	"time"

	"cyberredd/internal/cerr"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate's token bucket: refill rate is
// rpm/60 tokens/second, capped at burst, matching the hand-rolled refill
// semantics the spec describes.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(requestsPerMinute int, burst int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	if burst <= 0 {
		burst = 5
	}
	perSecond := rate.Limit(float64(requestsPerMinute) / 60.0)
	return &RateLimiter{limiter: rate.NewLimiter(perSecond, burst)}
}

// Acquire blocks until a token is available or the context is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// AcquireWithTimeout is the bounded-wait variant of Acquire.
func (r *RateLimiter) AcquireWithTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return r.Acquire(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := r.limiter.Wait(tctx); err != nil {
		return &cerr.LLMRateLimitExceeded{RetryAfterSeconds: timeout.Seconds()}
	}
	return nil
}
