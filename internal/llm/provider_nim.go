package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cyberredd/internal/cerr"
)

const nimDefaultBaseURL = "https://integrate.api.nvidia.com/v1"

// NIMModels maps the three routing tiers to their validated NVIDIA NIM
// model identifiers.
var NIMModels = map[Tier]string{
	TierFast:     "mistralai/devstral-2-123b-instruct-2512",
	TierStandard: "moonshotai/kimi-k2-instruct-0905",
	TierComplex:  "minimaxai/minimax-m2.1",
}

// NIMProvider talks to NVIDIA's OpenAI-compatible NIM chat-completions
// endpoint over HTTP. It is the gateway's one real network-calling
// Provider; everything else in this package can be exercised against
// MockProvider instead.
type NIMProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client

	mu                  sync.Mutex
	consecutiveFailures int

	usage struct {
		prompt, completion int64
	}
}

// NewNIMProvider constructs a provider bound to a single model. Use
// NIMProviderForTier to pick the model that matches a routing tier.
func NewNIMProvider(apiKey, model, baseURL string) (*NIMProvider, error) {
	if apiKey == "" {
		return nil, &cerr.ConfigurationError{Field: "nim.api_key", Message: "must not be empty"}
	}
	if baseURL == "" {
		baseURL = nimDefaultBaseURL
	}
	return &NIMProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// NIMProviderForTier picks the model validated for the given tier,
// falling back to the FAST model if the tier is unrecognized.
func NIMProviderForTier(tier Tier, apiKey string) (*NIMProvider, error) {
	model, ok := NIMModels[tier]
	if !ok {
		model = NIMModels[TierFast]
	}
	return NewNIMProvider(apiKey, model, "")
}

type nimChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type nimChatRequest struct {
	Model            string            `json:"model"`
	Messages         []nimChatMessage  `json:"messages"`
	Temperature      float64           `json:"temperature"`
	MaxTokens        int               `json:"max_tokens"`
	TopP             float64           `json:"top_p"`
	FrequencyPenalty float64           `json:"frequency_penalty"`
	Stop             []string          `json:"stop,omitempty"`
}

type nimChatChoice struct {
	Message      nimChatMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type nimChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type nimChatResponse struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Choices []nimChatChoice `json:"choices"`
	Usage   nimChatUsage    `json:"usage"`
}

func (p *NIMProvider) buildPayload(req Request) nimChatRequest {
	var messages []nimChatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, nimChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, nimChatMessage{Role: "user", Content: req.Prompt})
	return nimChatRequest{
		Model:            p.model,
		Messages:         messages,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		Stop:             req.StopSequences,
	}
}

func (p *NIMProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if !p.IsAvailable() {
		return Response{}, &cerr.LLMProviderUnavailable{Tier: "NIM"}
	}

	start := time.Now()
	body, err := json.Marshal(p.buildPayload(req))
	if err != nil {
		return Response{}, &cerr.LLMResponseError{Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, &cerr.LLMResponseError{Message: err.Error()}
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.recordFailure()
		if ctx.Err() != nil {
			return Response{}, &cerr.LLMTimeoutError{Stage: "provider"}
		}
		return Response{}, &cerr.LLMProviderUnavailable{Tier: "NIM"}
	}
	defer resp.Body.Close()

	if callErr := p.handleStatus(resp); callErr != nil {
		if _, rateLimited := callErr.(*cerr.LLMRateLimitExceeded); !rateLimited {
			p.recordFailure()
		}
		return Response{}, callErr
	}

	parsed, err := p.parseResponse(resp.Body)
	if err != nil {
		p.recordFailure()
		return Response{}, err
	}

	p.recordSuccess(parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
	finishReason := "stop"
	if len(parsed.Choices) > 0 && parsed.Choices[0].FinishReason != "" {
		finishReason = parsed.Choices[0].FinishReason
	}
	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}
	model := parsed.Model
	if model == "" {
		model = p.model
	}

	return Response{
		Content:   content,
		ModelUsed: model,
		Usage: TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		Latency:      time.Since(start),
		FinishReason: finishReason,
		RequestID:    firstNonEmpty(resp.Header.Get("x-inv-request-id"), resp.Header.Get("nv-request-id"), parsed.ID),
	}, nil
}

func (p *NIMProvider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func (p *NIMProvider) handleStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := 5.0
		if h := resp.Header.Get("Retry-After"); h != "" {
			var parsed float64
			if _, err := fmt.Sscanf(h, "%f", &parsed); err == nil {
				retryAfter = parsed
			}
		}
		return &cerr.LLMRateLimitExceeded{RetryAfterSeconds: retryAfter}
	case http.StatusUnauthorized:
		return &cerr.LLMProviderUnavailable{Tier: "NIM"}
	}
	if resp.StatusCode >= 500 {
		return &cerr.LLMProviderUnavailable{Tier: "NIM"}
	}
	b, _ := io.ReadAll(resp.Body)
	return &cerr.LLMResponseError{Message: fmt.Sprintf("api error %s: %s", resp.Status, strings.TrimSpace(string(b)))}
}

func (p *NIMProvider) parseResponse(r io.Reader) (nimChatResponse, error) {
	var parsed nimChatResponse
	if err := json.NewDecoder(r).Decode(&parsed); err != nil {
		return parsed, &cerr.LLMResponseError{Message: "malformed response: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		return parsed, &cerr.LLMResponseError{Message: "missing choices field"}
	}
	return parsed, nil
}

func (p *NIMProvider) HealthCheck(ctx context.Context) (Health, error) {
	start := time.Now()
	payload := nimChatRequest{
		Model:     p.model,
		Messages:  []nimChatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}
	body, _ := json.Marshal(payload)
	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(healthCtx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Health{Healthy: false, Error: err.Error()}, nil
	}
	p.setHeaders(httpReq)
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Health{Healthy: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Health{Healthy: false, Error: resp.Status}, nil
	}
	return Health{Healthy: true, Latency: time.Since(start)}, nil
}

func (p *NIMProvider) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveFailures < 3
}

func (p *NIMProvider) ModelName() string { return p.model }

// RateLimit returns the global 30 RPM ceiling per the architecture; it is
// reported for the gateway's RateLimiter to enforce, not enforced here.
func (p *NIMProvider) RateLimit() int { return 30 }

func (p *NIMProvider) Usage() TokenUsage {
	prompt := atomic.LoadInt64(&p.usage.prompt)
	completion := atomic.LoadInt64(&p.usage.completion)
	return TokenUsage{
		PromptTokens:     int(prompt),
		CompletionTokens: int(completion),
		TotalTokens:      int(prompt + completion),
	}
}

func (p *NIMProvider) recordSuccess(promptTokens, completionTokens int) {
	p.mu.Lock()
	p.consecutiveFailures = 0
	p.mu.Unlock()
	atomic.AddInt64(&p.usage.prompt, int64(promptTokens))
	atomic.AddInt64(&p.usage.completion, int64(completionTokens))
}

func (p *NIMProvider) recordFailure() {
	p.mu.Lock()
	p.consecutiveFailures++
	p.mu.Unlock()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
