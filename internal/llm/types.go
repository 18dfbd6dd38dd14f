// Package llm implements the LLM Gateway: a priority-queued,
// rate-limited, retrying, circuit-breaking front end for remote language
// model providers.
package llm

import (
	"time"

	"cyberredd/internal/cerr"
)

// Priority orders gateway requests. DIRECTOR is never starved.
type Priority int

const (
	PriorityDirector Priority = 0
	PriorityAgent    Priority = 1
)

// Request carries a bounded set of sampling parameters.
type Request struct {
	Prompt          string
	SystemPrompt    string
	ModelHint       string
	Temperature     float64
	MaxTokens       int
	TopP            float64
	FrequencyPenalty float64
	StopSequences   []string
}

// Validate enforces the bounds from spec §3.
func (r Request) Validate() error {
	if r.Temperature < 0 || r.Temperature > 2 {
		return &cerr.ConfigurationError{Field: "temperature", Message: "must be within [0, 2]"}
	}
	if r.MaxTokens < 1 || r.MaxTokens > 32768 {
		return &cerr.ConfigurationError{Field: "max_tokens", Message: "must be within [1, 32768]"}
	}
	if r.TopP < 0 || r.TopP > 1 {
		return &cerr.ConfigurationError{Field: "top_p", Message: "must be within [0, 1]"}
	}
	if r.FrequencyPenalty < -2 || r.FrequencyPenalty > 2 {
		return &cerr.ConfigurationError{Field: "frequency_penalty", Message: "must be within [-2, 2]"}
	}
	return nil
}

// TokenUsage is the triple carried on every Response.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response carries the provider's output plus bookkeeping. On
// unrecoverable gateway failure, FinishReason takes the synthetic form
// "error:{transient|permanent}:{ErrorClass}" so callers always receive a
// value and never a raw exception.
type Response struct {
	Content      string
	ModelUsed    string
	Usage        TokenUsage
	Latency      time.Duration
	FinishReason string
	RequestID    string
}

func syntheticErrorResponse(class string, permanent bool, requestID string) Response {
	kind := "transient"
	if permanent {
		kind = "permanent"
	}
	return Response{
		FinishReason: "error:" + kind + ":" + class,
		RequestID:    requestID,
	}
}
