package config

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenEnvUnset(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseDir == "" || cfg.SocketPath == "" {
		t.Fatalf("expected non-empty defaults, got %+v", cfg)
	}
	if cfg.MaxConnections != 100 {
		t.Fatalf("expected default max connections 100, got %d", cfg.MaxConnections)
	}
}

func TestLoadRejectsInvalidInt(t *testing.T) {
	os.Setenv("CYBERREDD_MAX_CONNECTIONS", "not-a-number")
	defer os.Unsetenv("CYBERREDD_MAX_CONNECTIONS")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid CYBERREDD_MAX_CONNECTIONS")
	}
}

func TestManagerReloadPicksUpNewLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeYAML(t, path, "max_engagements: 5\nmax_history: 20\n")

	logger := log.New(io.Discard, "", 0)
	m, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.Current().MaxEngagements != 5 {
		t.Fatalf("expected initial max_engagements 5, got %d", m.Current().MaxEngagements)
	}

	writeYAML(t, path, "max_engagements: 9\nmax_history: 20\n")
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if m.Current().MaxEngagements != 9 {
		t.Fatalf("expected reloaded max_engagements 9, got %d", m.Current().MaxEngagements)
	}
}

func TestManagerWatchTriggersReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeYAML(t, path, "max_engagements: 3\nmax_history: 10\n")

	logger := log.New(io.Discard, "", 0)
	m, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeYAML(t, path, "max_engagements: 7\nmax_history: 10\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Current().MaxEngagements == 7 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected watcher to pick up reload within 2s, got %+v", m.Current())
}

func writeYAML(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
