package preflight

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type fakeDocker struct{ err error }

func (f fakeDocker) Ping(ctx context.Context) error { return f.err }

func TestRunAllAllPass(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(fakeDocker{}, func(string) error { return nil }, filepath.Join(dir, "checkpoints"), filepath.Join(dir, "audit", "audit.jsonl"))

	results, err := r.RunAll("irrelevant.yaml")
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	for _, res := range results {
		if res.Status != "PASS" {
			t.Fatalf("expected all checks to PASS, got %+v", res)
		}
	}
}

func TestRunAllReportsFailureWithoutStoppingEarly(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(fakeDocker{err: errors.New("connection refused")}, func(string) error { return nil }, filepath.Join(dir, "checkpoints"), filepath.Join(dir, "audit", "audit.jsonl"))

	results, err := r.RunAll("irrelevant.yaml")
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected all 4 checks to run despite one failure, got %d", len(results))
	}
	var failed bool
	for _, res := range results {
		if res.Name == "docker_reachable" {
			if res.Status != "FAIL" {
				t.Fatalf("expected docker_reachable FAIL, got %s", res.Status)
			}
			failed = true
		}
	}
	if !failed {
		t.Fatalf("expected docker_reachable in results")
	}
}

func TestRunAllScopeLoadFailureIsFAIL(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(fakeDocker{}, func(string) error { return errors.New("bad yaml") }, filepath.Join(dir, "checkpoints"), filepath.Join(dir, "audit", "audit.jsonl"))

	results, err := r.RunAll("bad.yaml")
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	for _, res := range results {
		if res.Name == "scope_config_loads" && res.Status != "FAIL" {
			t.Fatalf("expected scope_config_loads FAIL, got %s", res.Status)
		}
	}
}
