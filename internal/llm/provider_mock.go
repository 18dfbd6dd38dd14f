package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MockProvider returns a configured sequence of responses deterministically,
// for use in tests: each Complete call pops the next scripted result.
type MockProvider struct {
	model     string
	rateLimit int

	mu        sync.Mutex
	responses []mockResult
	calls     int

	available atomic.Bool
	usage     TokenUsage
}

type mockResult struct {
	response Response
	err      error
}

func NewMockProvider(model string, rateLimit int) *MockProvider {
	p := &MockProvider{model: model, rateLimit: rateLimit}
	p.available.Store(true)
	return p
}

// ScriptSuccess appends a successful reply to the deterministic sequence.
func (p *MockProvider) ScriptSuccess(content string) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, mockResult{response: Response{Content: content, ModelUsed: p.model, FinishReason: "stop"}})
	return p
}

// ScriptError appends a failing reply to the deterministic sequence.
func (p *MockProvider) ScriptError(err error) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, mockResult{err: err})
	return p
}

func (p *MockProvider) SetAvailable(available bool) { p.available.Store(available) }

func (p *MockProvider) Complete(ctx context.Context, req Request) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.responses) {
		return Response{}, nil
	}
	result := p.responses[p.calls]
	p.calls++
	if result.err != nil {
		return Response{}, result.err
	}
	p.usage.PromptTokens += len(req.Prompt)
	p.usage.TotalTokens = p.usage.PromptTokens + p.usage.CompletionTokens
	return result.response, nil
}

func (p *MockProvider) HealthCheck(ctx context.Context) (Health, error) {
	return Health{Healthy: p.available.Load(), Latency: time.Millisecond}, nil
}

func (p *MockProvider) IsAvailable() bool    { return p.available.Load() }
func (p *MockProvider) ModelName() string    { return p.model }
func (p *MockProvider) RateLimit() int       { return p.rateLimit }
func (p *MockProvider) Usage() TokenUsage    { p.mu.Lock(); defer p.mu.Unlock(); return p.usage }
