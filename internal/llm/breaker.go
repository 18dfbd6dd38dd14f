package llm

import (
	"sync"
	"time"
)

// breakerState is one model's consecutive-failure counter and cooldown
// window.
type breakerState struct {
	consecutiveFailures int
	excludedUntil       time.Time
}

// CircuitBreaker excludes a failing model for a cooldown window after a
// threshold of consecutive retryable failures. A successful call resets
// the count; the exclusion auto-clears once the window elapses.
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*breakerState
	threshold int
	cooldown  time.Duration
	onChange  func(model string, excluded bool)
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{states: make(map[string]*breakerState), threshold: threshold, cooldown: cooldown}
}

// OnChange registers a callback invoked whenever a model's exclusion
// state flips, so the router can be notified.
func (b *CircuitBreaker) OnChange(fn func(model string, excluded bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Allowed reports whether model is currently available. A model whose
// cooldown window has elapsed is auto-cleared here.
func (b *CircuitBreaker) Allowed(model string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[model]
	if !ok {
		return true
	}
	if s.excludedUntil.IsZero() {
		return true
	}
	if time.Now().After(s.excludedUntil) {
		s.excludedUntil = time.Time{}
		s.consecutiveFailures = 0
		b.notify(model, false)
		return true
	}
	return false
}

// RecordSuccess resets the failure count for model.
func (b *CircuitBreaker) RecordSuccess(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateLocked(model)
	wasExcluded := !s.excludedUntil.IsZero()
	s.consecutiveFailures = 0
	s.excludedUntil = time.Time{}
	if wasExcluded {
		b.notify(model, false)
	}
}

// RecordFailure increments model's consecutive-failure count; only
// retryable failure kinds should be passed here (rate-limit failures do
// not count, per spec §4.6 step 6).
func (b *CircuitBreaker) RecordFailure(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stateLocked(model)
	s.consecutiveFailures++
	if s.consecutiveFailures >= b.threshold && s.excludedUntil.IsZero() {
		s.excludedUntil = time.Now().Add(b.cooldown)
		b.notify(model, true)
	}
}

func (b *CircuitBreaker) stateLocked(model string) *breakerState {
	s, ok := b.states[model]
	if !ok {
		s = &breakerState{}
		b.states[model] = s
	}
	return s
}

func (b *CircuitBreaker) notify(model string, excluded bool) {
	if b.onChange != nil {
		go b.onChange(model, excluded)
	}
}
