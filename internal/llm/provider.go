package llm

import (
	"context"
	"strings"
	"time"
)

// Health is returned by a provider's health check.
type Health struct {
	Healthy bool
	Latency time.Duration
	Error   string
}

// Provider is the capability set every LLM backend implements: the
// gateway never calls a remote API directly, only through this interface.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
	HealthCheck(ctx context.Context) (Health, error)
	IsAvailable() bool
	ModelName() string
	RateLimit() int
	Usage() TokenUsage
}

// Tier is one of the three routing tiers.
type Tier string

const (
	TierFast     Tier = "FAST"
	TierStandard Tier = "STANDARD"
	TierComplex  Tier = "COMPLEX"
)

var tierOrder = []Tier{TierFast, TierStandard, TierComplex}

// fastKeywords / complexKeywords drive the router's tier-inference
// heuristic; anything else defaults to STANDARD.
var fastKeywords = []string{"summarize", "classify", "yes or no", "true or false", "one word"}
var complexKeywords = []string{"plan", "strategy", "exploit chain", "multi-step", "architecture", "design a"}

// InferTier applies the keyword heuristic from spec §4.6 step 4.
func InferTier(prompt string) Tier {
	lower := strings.ToLower(prompt)
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return TierComplex
		}
	}
	for _, kw := range fastKeywords {
		if strings.Contains(lower, kw) {
			return TierFast
		}
	}
	return TierStandard
}
