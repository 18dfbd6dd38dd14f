package session

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"cyberredd/internal/cerr"

	"gopkg.in/yaml.v3"
)

// PreFlightRunner is the blocking pre-flight collaborator contract (§6).
type PreFlightRunner interface {
	RunAll(configPath string) ([]cerr.PreFlightCheckResult, error)
}

// CheckpointStore is the Checkpoint Store collaborator contract consumed
// by stop_engagement and remove_engagement.
type CheckpointStore interface {
	Save(engagementID, scopeHash string, agents []AgentSnapshot, findings []Finding) (path string, err error)
	Delete(engagementID string) error
}

// EventBus is the publish side of the streaming bus collaborator.
type EventBus interface {
	Publish(channel string, message any) error
}

// Clock abstracts time.Now so tests can control created-at ordering.
type Clock func() time.Time

// Limits bounds the Manager per spec §4.3 / §5.
type Limits struct {
	MaxEngagements int // default 10
	MaxHistory     int // default 50
}

type engagementRecord struct {
	eng       *Engagement
	agents    []AgentSnapshot
	findings  []Finding
	subs      map[string]subscription
}

// Manager owns every Engagement for the process lifetime.
type Manager struct {
	mu      sync.Mutex
	records map[string]*engagementRecord
	order   []string // insertion order, used to find oldest non-active entries

	limits     Limits
	preflight  PreFlightRunner
	checkpoint CheckpointStore
	bus        EventBus
	clock      Clock
}

func NewManager(limits Limits, preflight PreFlightRunner, checkpoint CheckpointStore, bus EventBus) *Manager {
	if limits.MaxEngagements <= 0 {
		limits.MaxEngagements = 10
	}
	if limits.MaxHistory <= 0 {
		limits.MaxHistory = 50
	}
	return &Manager{
		records:    make(map[string]*engagementRecord),
		limits:     limits,
		preflight:  preflight,
		checkpoint: checkpoint,
		bus:        bus,
		clock:      time.Now,
	}
}

type engagementConfigDoc struct {
	Name string `yaml:"name"`
}

// CreateEngagement loads configPath, derives the name, validates it,
// enforces capacity/history limits (pruning terminal engagements to make
// room), and registers a new INITIALIZING engagement.
func (m *Manager) CreateEngagement(configPath string) (*Engagement, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &cerr.FileNotFoundError{Path: configPath}
		}
		return nil, fmt.Errorf("reading engagement config %s: %w", configPath, err)
	}
	var doc engagementConfigDoc
	_ = yaml.Unmarshal(data, &doc)
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = stemOf(configPath)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCountLocked() >= m.limits.MaxEngagements {
		return nil, &cerr.ResourceLimitError{Limit: "max_engagements"}
	}
	if len(m.order) >= m.limits.MaxHistory {
		if !m.pruneOldestTerminalLocked() {
			return nil, &cerr.ResourceLimitError{Limit: "max_history"}
		}
	}

	now := m.clock()
	id, err := NewID(name, now)
	if err != nil {
		return nil, err
	}
	eng := &Engagement{
		ID:         id,
		Name:       name,
		ConfigPath: configPath,
		CreatedAt:  now,
		State:      Initializing,
	}
	m.records[id] = &engagementRecord{eng: eng, subs: make(map[string]subscription)}
	m.order = append(m.order, id)
	return eng, nil
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, id := range m.order {
		if m.records[id].eng.State.IsActive() {
			n++
		}
	}
	return n
}

// pruneOldestTerminalLocked drops the single oldest non-active engagement
// to make room, sorted by created-at. Never removes an active engagement.
func (m *Manager) pruneOldestTerminalLocked() bool {
	type candidate struct {
		id        string
		createdAt time.Time
	}
	var candidates []candidate
	for _, id := range m.order {
		rec := m.records[id]
		if !rec.eng.State.IsActive() {
			candidates = append(candidates, candidate{id: id, createdAt: rec.eng.CreatedAt})
		}
	}
	if len(candidates) == 0 {
		return false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].createdAt.Before(candidates[j].createdAt) })
	oldest := candidates[0].id
	m.removeLocked(oldest)
	return true
}

func (m *Manager) removeLocked(id string) {
	delete(m.records, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// StartEngagement runs blocking pre-flight checks and, on success,
// transitions INITIALIZING -> RUNNING.
func (m *Manager) StartEngagement(id string, ignoreWarnings bool) (State, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return "", err
	}

	results, err := m.preflight.RunAll(rec.eng.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("running pre-flight checks: %w", err)
	}
	if err := validatePreFlightResults(results, ignoreWarnings); err != nil {
		return "", err
	}

	return m.applyTransition(id, Running)
}

func validatePreFlightResults(results []cerr.PreFlightCheckResult, ignoreWarnings bool) error {
	var failures, warnings []cerr.PreFlightCheckResult
	for _, r := range results {
		switch r.Status {
		case "FAIL":
			failures = append(failures, r)
		case "WARN":
			warnings = append(warnings, r)
		}
	}
	if len(failures) > 0 {
		return &cerr.PreFlightCheckError{Failures: failures}
	}
	if len(warnings) > 0 && !ignoreWarnings {
		return &cerr.PreFlightWarningError{Warnings: warnings}
	}
	return nil
}

// PauseEngagement is hot: RAM-only, instant, no I/O.
func (m *Manager) PauseEngagement(id string) (State, error) {
	return m.applyTransition(id, Paused)
}

// ResumeEngagement is hot: RAM-only, instant, no I/O.
func (m *Manager) ResumeEngagement(id string) (State, error) {
	return m.applyTransition(id, Running)
}

// StopEngagement is cold: it checkpoints the engagement before
// transitioning to STOPPED, so a failed checkpoint never silently loses
// state. scopeHash is taken from the current scope file by the caller.
func (m *Manager) StopEngagement(id, scopeHash string) (State, string, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return "", "", &cerr.EngagementNotFoundError{EngagementID: id}
	}
	if !rec.eng.State.canTransitionTo(Stopped) {
		from := rec.eng.State
		m.mu.Unlock()
		return "", "", &cerr.InvalidStateTransition{EngagementID: id, From: string(from), To: string(Stopped)}
	}
	agents := append([]AgentSnapshot{}, rec.agents...)
	findings := append([]Finding{}, rec.findings...)
	m.mu.Unlock()

	path, err := m.checkpoint.Save(id, scopeHash, agents, findings)
	if err != nil {
		return "", "", fmt.Errorf("checkpointing engagement %s: %w", id, err)
	}

	state, err := m.applyTransition(id, Stopped)
	if err != nil {
		return "", "", err
	}
	return state, path, nil
}

// RemoveEngagement is allowed only in STOPPED/COMPLETED; it deletes the
// checkpoint file and drops the engagement's context entirely.
func (m *Manager) RemoveEngagement(id string) error {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return &cerr.EngagementNotFoundError{EngagementID: id}
	}
	state := rec.eng.State
	if state != Stopped && state != Completed {
		m.mu.Unlock()
		return &cerr.InvalidStateTransition{EngagementID: id, From: string(state), To: "removed"}
	}
	m.removeLocked(id)
	m.mu.Unlock()

	return m.checkpoint.Delete(id)
}

func (m *Manager) applyTransition(id string, next State) (State, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return "", &cerr.EngagementNotFoundError{EngagementID: id}
	}
	from := rec.eng.State
	if err := rec.eng.transition(next); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.mu.Unlock()

	event := StateChangeEvent{EngagementID: id, From: from, To: next, At: m.clock()}
	if m.bus != nil {
		_ = m.bus.Publish(fmt.Sprintf("engagement:%s:state", id), event)
	}
	m.BroadcastEvent(id, event)
	return next, nil
}

func (m *Manager) lookup(id string) (*engagementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, &cerr.EngagementNotFoundError{EngagementID: id}
	}
	return rec, nil
}

// Get returns a copy of the engagement's current snapshot.
func (m *Manager) Get(id string) (Engagement, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return Engagement{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	eng := *rec.eng
	eng.AgentCount = len(rec.agents)
	eng.FindingCount = len(rec.findings)
	return eng, nil
}

// List returns a snapshot of every tracked engagement.
func (m *Manager) List() []Engagement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Engagement, 0, len(m.order))
	for _, id := range m.order {
		rec := m.records[id]
		eng := *rec.eng
		eng.AgentCount = len(rec.agents)
		eng.FindingCount = len(rec.findings)
		out = append(out, eng)
	}
	return out
}

// RecordFinding appends a finding to an engagement's hot state and fans
// it out as a FINDING stream event.
func (m *Manager) RecordFinding(id string, f Finding) error {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return &cerr.EngagementNotFoundError{EngagementID: id}
	}
	rec.findings = append(rec.findings, f)
	m.mu.Unlock()
	m.BroadcastEvent(id, f)
	return nil
}

func stemOf(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return strings.ToLower(base)
}
