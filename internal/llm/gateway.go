package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cyberredd/internal/cerr"
)

// Metrics are the gateway's exposed counters (spec §4.6 "Metrics exposed").
type Metrics struct {
	TotalRequests  int64
	Successes      int64
	Failures       int64
	Retries        int64
	TotalLatencyNs int64
}

func (m *Metrics) AverageLatency() time.Duration {
	total := atomic.LoadInt64(&m.TotalRequests)
	if total == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&m.TotalLatencyNs) / total)
}

// Gateway is the process-wide LLM front end: explicitly started and shut
// down, it owns the single background worker that drains the priority
// queue.
type Gateway struct {
	queue   *Queue
	limiter *RateLimiter
	router  *Router
	breaker *CircuitBreaker
	retry   RetryPolicy
	timeout time.Duration

	metrics Metrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewGateway(router *Router, breaker *CircuitBreaker, limiter *RateLimiter, retry RetryPolicy, perRequestTimeout time.Duration) *Gateway {
	if perRequestTimeout <= 0 {
		perRequestTimeout = 100 * time.Second
	}
	return &Gateway{
		queue:   NewQueue(),
		limiter: limiter,
		router:  router,
		breaker: breaker,
		retry:   retry,
		timeout: perRequestTimeout,
	}
}

// Start launches the single background worker loop.
func (g *Gateway) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.wg.Add(1)
	go g.workerLoop(workerCtx)
}

// Shutdown stops the worker and unblocks any pending Dequeue.
func (g *Gateway) Shutdown() {
	if g.cancel != nil {
		g.cancel()
	}
	g.queue.Close()
	g.wg.Wait()
}

// EnqueueDirector / EnqueueAgent submit a request and return a channel
// resolved by the worker loop — always with a value, never closed
// without one (spec §4.6 step 2: "never raises back to the future").
func (g *Gateway) EnqueueDirector(req Request) chan Response { return g.queue.EnqueueDirector(req) }
func (g *Gateway) EnqueueAgent(req Request) chan Response    { return g.queue.EnqueueAgent(req) }

func (g *Gateway) Metrics() Metrics {
	return Metrics{
		TotalRequests:  atomic.LoadInt64(&g.metrics.TotalRequests),
		Successes:      atomic.LoadInt64(&g.metrics.Successes),
		Failures:       atomic.LoadInt64(&g.metrics.Failures),
		Retries:        atomic.LoadInt64(&g.metrics.Retries),
		TotalLatencyNs: atomic.LoadInt64(&g.metrics.TotalLatencyNs),
	}
}

func (g *Gateway) QueueDepth() int { return g.queue.Depth() }

func (g *Gateway) workerLoop(ctx context.Context) {
	defer g.wg.Done()
	for {
		j, err := g.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		response := g.executeWithRetry(ctx, j.request)
		j.result <- response
	}
}

// executeWithRetry never returns an error: unrecoverable failures resolve
// into a synthetic error response so the caller always gets a value.
func (g *Gateway) executeWithRetry(ctx context.Context, req Request) Response {
	atomic.AddInt64(&g.metrics.TotalRequests, 1)
	start := time.Now()

	if err := req.Validate(); err != nil {
		atomic.AddInt64(&g.metrics.Failures, 1)
		return syntheticErrorResponse("InvalidRequest", true, "")
	}

	tier := InferTier(req.Prompt)
	var lastErr error
	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Acquire(ctx); err != nil {
				lastErr = err
				break
			}
		}

		selectedTier, provider, err := g.router.Select(tier)
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				break
			}
			if waitErr := g.backoffAndCount(ctx, attempt); waitErr != nil {
				lastErr = waitErr
				break
			}
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := provider.Complete(callCtx, req)
		cancel()

		if err == nil {
			if g.breaker != nil {
				g.breaker.RecordSuccess(provider.ModelName())
			}
			atomic.AddInt64(&g.metrics.Successes, 1)
			resp.Latency = time.Since(start)
			atomic.AddInt64(&g.metrics.TotalLatencyNs, int64(resp.Latency))
			return resp
		}

		lastErr = err
		if rateLimitErr, ok := err.(*cerr.LLMRateLimitExceeded); ok {
			// rate-limit failures never count toward the breaker.
			wait := cappedRetryAfter(rateLimitErr.RetryAfterSeconds)
			if waitErr := sleepOrDone(ctx, wait); waitErr != nil {
				lastErr = waitErr
				break
			}
			atomic.AddInt64(&g.metrics.Retries, 1)
			continue
		}

		if g.breaker != nil && isRetryable(err) {
			g.breaker.RecordFailure(provider.ModelName())
		}
		_ = selectedTier
		if !isRetryable(err) {
			break
		}
		if waitErr := g.backoffAndCount(ctx, attempt); waitErr != nil {
			lastErr = waitErr
			break
		}
	}

	atomic.AddInt64(&g.metrics.Failures, 1)
	return g.synthesizeFailure(lastErr)
}

func (g *Gateway) backoffAndCount(ctx context.Context, attempt int) error {
	atomic.AddInt64(&g.metrics.Retries, 1)
	return sleepOrDone(ctx, g.retry.backoffFor(attempt))
}

func (g *Gateway) synthesizeFailure(err error) Response {
	switch e := err.(type) {
	case *cerr.LLMTimeoutError:
		return syntheticErrorResponse("LLMTimeoutError", false, "")
	case *cerr.LLMProviderUnavailable:
		return syntheticErrorResponse("LLMProviderUnavailable", false, "")
	case *cerr.LLMResponseError:
		return syntheticErrorResponse("LLMResponseError", true, "")
	default:
		_ = e
		return syntheticErrorResponse("Unknown", true, "")
	}
}
