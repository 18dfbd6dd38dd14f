package llm

import "cyberredd/internal/cerr"

// Router holds one provider per tier and falls back FAST->STANDARD->
// COMPLEX, skipping any provider currently excluded by the breaker.
type Router struct {
	providers map[Tier]Provider
	breaker   *CircuitBreaker
}

func NewRouter(breaker *CircuitBreaker) *Router {
	return &Router{providers: make(map[Tier]Provider), breaker: breaker}
}

func (r *Router) Register(tier Tier, provider Provider) {
	r.providers[tier] = provider
}

// Select returns the first available provider at or above startTier, in
// fixed tier order, skipping excluded or unavailable providers.
func (r *Router) Select(startTier Tier) (Tier, Provider, error) {
	started := false
	for _, tier := range tierOrder {
		if !started {
			if tier != startTier {
				continue
			}
			started = true
		}
		provider, ok := r.providers[tier]
		if !ok || provider == nil || !provider.IsAvailable() {
			continue
		}
		if r.breaker != nil && !r.breaker.Allowed(provider.ModelName()) {
			continue
		}
		return tier, provider, nil
	}
	return "", nil, &cerr.LLMProviderUnavailable{Tier: string(startTier)}
}
