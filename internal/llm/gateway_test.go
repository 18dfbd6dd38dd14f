package llm

import (
	"context"
	"testing"
	"time"

	"cyberredd/internal/cerr"
)

func TestQueueOrdersDirectorBeforeAgentRegardlessOfInsertOrder(t *testing.T) {
	q := NewQueue()
	q.EnqueueAgent(Request{Prompt: "agent-1", MaxTokens: 10})
	q.EnqueueAgent(Request{Prompt: "agent-2", MaxTokens: 10})
	q.EnqueueDirector(Request{Prompt: "director-1", MaxTokens: 10})

	ctx := context.Background()
	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if first.request.Prompt != "director-1" {
		t.Fatalf("expected director job first, got %q", first.request.Prompt)
	}

	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if second.request.Prompt != "agent-1" {
		t.Fatalf("expected agent-1 (FIFO within priority), got %q", second.request.Prompt)
	}
}

func TestQueueDequeueUnblocksOnContextCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if err == nil {
		t.Fatalf("expected timeout error on empty queue")
	}
	var timeoutErr *cerr.LLMTimeoutError
	if !asLLMTimeout(err, &timeoutErr) {
		t.Fatalf("expected *cerr.LLMTimeoutError, got %T", err)
	}
	if timeoutErr.Stage != "dequeue" {
		t.Fatalf("expected stage dequeue, got %q", timeoutErr.Stage)
	}
}

func asLLMTimeout(err error, target **cerr.LLMTimeoutError) bool {
	e, ok := err.(*cerr.LLMTimeoutError)
	if ok {
		*target = e
	}
	return ok
}

func TestCircuitBreakerExcludesAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)
	model := "moonshotai/kimi-k2-instruct-0905"

	for i := 0; i < 2; i++ {
		b.RecordFailure(model)
		if !b.Allowed(model) {
			t.Fatalf("should still be allowed after %d failures", i+1)
		}
	}
	b.RecordFailure(model)
	if b.Allowed(model) {
		t.Fatalf("expected model excluded after 3 consecutive failures")
	}

	b.RecordSuccess(model)
	if !b.Allowed(model) {
		t.Fatalf("success should clear exclusion")
	}
}

func TestGatewayRetriesThenSucceeds(t *testing.T) {
	provider := NewMockProvider("moonshotai/kimi-k2-instruct-0905", 30)
	provider.ScriptError(&cerr.LLMProviderUnavailable{Tier: "STANDARD"}).
		ScriptError(&cerr.LLMProviderUnavailable{Tier: "STANDARD"}).
		ScriptSuccess("third time lucky")

	breaker := NewCircuitBreaker(10, time.Minute) // high threshold: don't exclude mid-retry
	router := NewRouter(breaker)
	router.Register(TierStandard, provider)

	retry := RetryPolicy{MaxRetries: 3, Backoff: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}}
	limiter := NewRateLimiter(6000, 100) // effectively unthrottled for this test
	gw := NewGateway(router, breaker, limiter, retry, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Shutdown()

	ch := gw.EnqueueAgent(Request{Prompt: "summarize this", MaxTokens: 16, TopP: 1})
	select {
	case resp := <-ch:
		if resp.Content != "third time lucky" {
			t.Fatalf("expected successful content, got %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for gateway response")
	}

	metrics := gw.Metrics()
	if metrics.Successes != 1 {
		t.Fatalf("expected 1 success, got %d", metrics.Successes)
	}
	if metrics.Retries != 2 {
		t.Fatalf("expected 2 retries, got %d", metrics.Retries)
	}
}

func TestGatewaySynthesizesFailureResponseWithoutPanicking(t *testing.T) {
	provider := NewMockProvider("mistralai/devstral-2-123b-instruct-2512", 30)
	provider.ScriptError(&cerr.LLMResponseError{Message: "malformed"})

	breaker := NewCircuitBreaker(3, time.Minute)
	router := NewRouter(breaker)
	router.Register(TierFast, provider)

	retry := RetryPolicy{MaxRetries: 0}
	limiter := NewRateLimiter(6000, 100)
	gw := NewGateway(router, breaker, limiter, retry, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Shutdown()

	ch := gw.EnqueueDirector(Request{Prompt: "one word answer please", MaxTokens: 4, TopP: 1})
	select {
	case resp := <-ch:
		if resp.FinishReason != "error:permanent:LLMResponseError" {
			t.Fatalf("expected synthetic permanent failure, got %q", resp.FinishReason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for gateway response")
	}
}

func TestInferTierHeuristic(t *testing.T) {
	cases := map[string]Tier{
		"please summarize this report":               TierFast,
		"answer in one word":                         TierFast,
		"design a multi-step exploit chain for this":  TierComplex,
		"what's the weather like":                     TierStandard,
	}
	for prompt, want := range cases {
		if got := InferTier(prompt); got != want {
			t.Fatalf("InferTier(%q) = %s, want %s", prompt, got, want)
		}
	}
}
