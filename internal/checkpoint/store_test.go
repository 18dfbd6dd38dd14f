package checkpoint

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"cyberredd/internal/cerr"
	"cyberredd/internal/session"
)

func TestSaveThenLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	agents := []session.AgentSnapshot{
		{ID: "agent-2", Type: "recon", State: map[string]any{"phase": "scan"}, UpdatedAt: time.Now()},
		{ID: "agent-1", Type: "exploit", State: map[string]any{"phase": "idle"}, UpdatedAt: time.Now()},
	}
	findings := []session.Finding{
		{ID: "f2", Payload: map[string]any{"sev": "low"}, Timestamp: time.Now()},
		{ID: "f1", Payload: map[string]any{"sev": "high"}, Timestamp: time.Now()},
	}

	path, err := store.Save("eng-1", "scopehash", agents, findings)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(path, LoadOptions{}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Findings) != 2 || loaded.Findings[0].ID != "f1" || loaded.Findings[1].ID != "f2" {
		t.Fatalf("expected findings sorted by id, got %+v", loaded.Findings)
	}
	if len(loaded.Agents) != 2 || loaded.Agents[0].ID != "agent-1" {
		t.Fatalf("expected agents sorted by id, got %+v", loaded.Agents)
	}
}

func TestLoadDetectsTamperedSignature(t *testing.T) {
	store := NewStore(t.TempDir())
	path, err := store.Save("eng-1", "scopehash", nil, []session.Finding{{ID: "f1"}})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening for tamper: %v", err)
	}
	if _, err := db.Exec(`UPDATE findings SET payload='{"tampered":true}' WHERE id='f1'`); err != nil {
		t.Fatalf("tampering: %v", err)
	}
	db.Close()

	_, err = store.Load(path, LoadOptions{}, nil)
	integrityErr, ok := err.(*cerr.CheckpointIntegrityError)
	if !ok {
		t.Fatalf("expected CheckpointIntegrityError, got %T (%v)", err, err)
	}
	if integrityErr.VerificationType != cerr.VerifySignature {
		t.Fatalf("expected signature verification type, got %s", integrityErr.VerificationType)
	}
}

func TestLoadRejectsNewerSchema(t *testing.T) {
	store := NewStore(t.TempDir())
	path, err := store.Save("eng-1", "scopehash", nil, nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	if _, err := db.Exec(`UPDATE engagement SET schema_version='2.0.1'`); err != nil {
		t.Fatalf("bumping schema: %v", err)
	}
	db.Close()

	_, err = store.Load(path, LoadOptions{}, nil)
	if _, ok := err.(*cerr.IncompatibleSchemaError); !ok {
		t.Fatalf("expected IncompatibleSchemaError, got %T (%v)", err, err)
	}
}

func TestLoadMissingFileReturnsFileNotFound(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Load(filepath.Join(store.baseDir, "nope.sqlite"), LoadOptions{}, nil)
	if _, ok := err.(*cerr.FileNotFoundError); !ok {
		t.Fatalf("expected FileNotFoundError, got %T (%v)", err, err)
	}
}
