package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cyberredd/internal/cerr"
)

type fakePreFlight struct {
	results []cerr.PreFlightCheckResult
	err     error
}

func (f *fakePreFlight) RunAll(configPath string) ([]cerr.PreFlightCheckResult, error) {
	return f.results, f.err
}

type fakeCheckpointStore struct {
	saved   map[string]bool
	saveErr error
}

func (f *fakeCheckpointStore) Save(engagementID, scopeHash string, agents []AgentSnapshot, findings []Finding) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	if f.saved == nil {
		f.saved = map[string]bool{}
	}
	f.saved[engagementID] = true
	return "/tmp/" + engagementID + "/checkpoint.sqlite", nil
}

func (f *fakeCheckpointStore) Delete(engagementID string) error {
	delete(f.saved, engagementID)
	return nil
}

func writeConfig(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "acme.yaml")
	if err := os.WriteFile(path, []byte("name: "+name+"\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func passingPreflight() *fakePreFlight {
	return &fakePreFlight{results: []cerr.PreFlightCheckResult{{Name: "docker", Status: "PASS", Priority: "P0"}}}
}

func TestLifecycleRoundTrip(t *testing.T) {
	store := &fakeCheckpointStore{}
	m := NewManager(Limits{}, passingPreflight(), store, nil)

	eng, err := m.CreateEngagement(writeConfig(t, "acme"))
	if err != nil {
		t.Fatalf("CreateEngagement: %v", err)
	}
	if eng.State != Initializing {
		t.Fatalf("expected INITIALIZING, got %s", eng.State)
	}

	if state, err := m.StartEngagement(eng.ID, false); err != nil || state != Running {
		t.Fatalf("StartEngagement: state=%v err=%v", state, err)
	}

	if err := m.RecordFinding(eng.ID, Finding{ID: "f1"}); err != nil {
		t.Fatalf("RecordFinding: %v", err)
	}
	if err := m.RecordFinding(eng.ID, Finding{ID: "f2"}); err != nil {
		t.Fatalf("RecordFinding: %v", err)
	}

	state, path, err := m.StopEngagement(eng.ID, "scopehash")
	if err != nil {
		t.Fatalf("StopEngagement: %v", err)
	}
	if state != Stopped {
		t.Fatalf("expected STOPPED, got %s", state)
	}
	if path == "" {
		t.Fatalf("expected non-empty checkpoint path")
	}
	if !store.saved[eng.ID] {
		t.Fatalf("expected checkpoint saved for %s", eng.ID)
	}
}

func TestStartEngagementFailsOnPreFlightFailure(t *testing.T) {
	pf := &fakePreFlight{results: []cerr.PreFlightCheckResult{{Name: "docker", Status: "FAIL", Priority: "P0"}}}
	m := NewManager(Limits{}, pf, &fakeCheckpointStore{}, nil)
	eng, err := m.CreateEngagement(writeConfig(t, "acme"))
	if err != nil {
		t.Fatalf("CreateEngagement: %v", err)
	}
	_, err = m.StartEngagement(eng.ID, false)
	if _, ok := err.(*cerr.PreFlightCheckError); !ok {
		t.Fatalf("expected PreFlightCheckError, got %T (%v)", err, err)
	}
}

func TestMaxEngagementsEnforced(t *testing.T) {
	m := NewManager(Limits{MaxEngagements: 1, MaxHistory: 50}, passingPreflight(), &fakeCheckpointStore{}, nil)
	if _, err := m.CreateEngagement(writeConfig(t, "first")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := m.CreateEngagement(writeConfig(t, "second"))
	if _, ok := err.(*cerr.ResourceLimitError); !ok {
		t.Fatalf("expected ResourceLimitError, got %T (%v)", err, err)
	}
}

func TestInvalidStateTransitionLeavesPriorStateUnchanged(t *testing.T) {
	m := NewManager(Limits{}, passingPreflight(), &fakeCheckpointStore{}, nil)
	eng, _ := m.CreateEngagement(writeConfig(t, "acme"))
	// Pause is illegal directly from INITIALIZING.
	_, err := m.PauseEngagement(eng.ID)
	if _, ok := err.(*cerr.InvalidStateTransition); !ok {
		t.Fatalf("expected InvalidStateTransition, got %T (%v)", err, err)
	}
	got, _ := m.Get(eng.ID)
	if got.State != Initializing {
		t.Fatalf("expected state unchanged at INITIALIZING, got %s", got.State)
	}
}

func TestGracefulShutdownNotifiesAndChecksPoint(t *testing.T) {
	store := &fakeCheckpointStore{}
	m := NewManager(Limits{}, passingPreflight(), store, nil)
	eng, _ := m.CreateEngagement(writeConfig(t, "acme"))
	if _, err := m.StartEngagement(eng.ID, false); err != nil {
		t.Fatalf("StartEngagement: %v", err)
	}

	received := 0
	if _, err := m.SubscribeToEngagement(eng.ID, func(event any) { received++ }); err != nil {
		t.Fatalf("SubscribeToEngagement: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := m.GracefulShutdown(ctx, "scopehash")
	if len(result.Failures) != 0 {
		t.Fatalf("expected no failures, got %v", result.Failures)
	}
	if received == 0 {
		t.Fatalf("expected at least one DAEMON_SHUTDOWN notification")
	}
	got, _ := m.Get(eng.ID)
	if got.State != Stopped {
		t.Fatalf("expected engagement STOPPED after shutdown, got %s", got.State)
	}
	if !store.saved[eng.ID] {
		t.Fatalf("expected checkpoint saved during shutdown")
	}
}
