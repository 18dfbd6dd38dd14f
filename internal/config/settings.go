package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"cyberredd/internal/llm"
	"cyberredd/internal/session"
)

func durationSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// Settings is the daemon's reloadable document: resource limits,
// pre-flight policy, and LLM policy knobs. It is replaced as a whole, not
// mutated in place (spec §9 "Hot-reload": "Settings are a single reference
// that can be atomically replaced"). A reload changes what Manager.Current
// returns; the daemon reads Limits and LLM once at startup to build the
// session manager and the LLM gateway, which keep those startup values.
// IgnorePreFlightWarnings is not read by any component.
type Settings struct {
	Limits         session.Limits `yaml:"-"`
	MaxEngagements int            `yaml:"max_engagements"`
	MaxHistory     int            `yaml:"max_history"`

	IgnorePreFlightWarnings bool `yaml:"ignore_preflight_warnings"`

	LLM LLMPolicy `yaml:"llm"`
}

// LLMPolicy holds the gateway's rate-limiter and circuit-breaker knobs.
// They take effect when a limiter or breaker is built from them.
type LLMPolicy struct {
	RateLimitRPM       int     `yaml:"rate_limit_rpm"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
	CircuitThreshold   int     `yaml:"circuit_breaker_threshold"`
	CircuitCooldownSec float64 `yaml:"circuit_breaker_cooldown_seconds"`
}

func defaultSettings() Settings {
	return Settings{
		MaxEngagements: 10,
		MaxHistory:     50,
		LLM: LLMPolicy{
			RateLimitRPM:       30,
			RateLimitBurst:     5,
			CircuitThreshold:   3,
			CircuitCooldownSec: 60,
		},
	}
}

func loadSettingsFile(path string) (Settings, error) {
	s := defaultSettings()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.Limits = session.Limits{MaxEngagements: s.MaxEngagements, MaxHistory: s.MaxHistory}
		return s, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("config: read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("config: parse settings: %w", err)
	}
	if s.MaxEngagements <= 0 {
		s.MaxEngagements = 10
	}
	if s.MaxHistory <= 0 {
		s.MaxHistory = 50
	}
	s.Limits = session.Limits{MaxEngagements: s.MaxEngagements, MaxHistory: s.MaxHistory}
	return s, nil
}

// RetryPolicy is fixed by spec §4.6 step 6 and not part of Settings; only
// the rate limiter and circuit breaker knobs are.
func (p LLMPolicy) NewRateLimiter() *llm.RateLimiter {
	return llm.NewRateLimiter(p.RateLimitRPM, p.RateLimitBurst)
}

func (p LLMPolicy) NewCircuitBreaker() *llm.CircuitBreaker {
	seconds := p.CircuitCooldownSec
	if seconds <= 0 {
		seconds = 60
	}
	return llm.NewCircuitBreaker(p.CircuitThreshold, durationSeconds(seconds))
}

// atomicSettings is the single replaceable reference behind
// Manager.Current.
type atomicSettings struct {
	ref atomic.Pointer[Settings]
}

func (a *atomicSettings) Load() Settings {
	if s := a.ref.Load(); s != nil {
		return *s
	}
	return defaultSettings()
}

func (a *atomicSettings) Store(s Settings) {
	a.ref.Store(&s)
}
