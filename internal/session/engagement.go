// Package session implements the Session Manager: per-engagement lifecycle
// state machines, capacity/history limits, and subscription fan-out. It
// owns every Engagement for the life of the process.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cyberredd/internal/cerr"
)

var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// State is one of the five lifecycle states an Engagement can occupy.
type State string

const (
	Initializing State = "INITIALIZING"
	Running      State = "RUNNING"
	Paused       State = "PAUSED"
	Stopped      State = "STOPPED"
	Completed    State = "COMPLETED"
)

// IsActive reports whether s counts against max_engagements.
func (s State) IsActive() bool {
	return s == Initializing || s == Running || s == Paused
}

// legalTransitions enumerates the only moves the state machine accepts.
var legalTransitions = map[State][]State{
	Initializing: {Running},
	Running:      {Paused, Stopped},
	Paused:       {Running, Stopped},
	Stopped:      {Completed},
	Completed:    {},
}

func (s State) canTransitionTo(next State) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Engagement is one authorized red-team operation: a scope-bound,
// checkpointable state machine. Exclusively owned by a Manager.
type Engagement struct {
	ID            string
	Name          string
	ConfigPath    string
	ScopeHash     string
	CreatedAt     time.Time
	State         State
	AgentCount    int
	FindingCount  int
}

// ValidateName checks the engagement name pattern from the data model.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return &cerr.ConfigurationError{Field: "name", Message: fmt.Sprintf("invalid engagement name %q", name)}
	}
	return nil
}

// NewID generates a globally-unique engagement id: name-YYYYMMDD-HHMMSS-6hex.
func NewID(name string, now time.Time) (string, error) {
	suffix, err := randomHex(3)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", strings.ToLower(name), now.UTC().Format("20060102-150405"), suffix), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating engagement id suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// transition attempts to move the engagement to next, returning
// InvalidStateTransition if illegal. The prior state is left unchanged on
// failure.
func (e *Engagement) transition(next State) error {
	if !e.State.canTransitionTo(next) {
		return &cerr.InvalidStateTransition{EngagementID: e.ID, From: string(e.State), To: string(next)}
	}
	e.State = next
	return nil
}
