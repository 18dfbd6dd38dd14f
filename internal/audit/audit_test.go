package audit

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
)

func TestLogAppendsChainedRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	l, err := New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Log(map[string]any{"decision": "ALLOW", "target": "192.168.1.100"})
	l.Log(map[string]any{"decision": "DENY", "target": "10.0.0.5", "reason": "ip_out_of_scope"})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 audit lines, got %d", count)
	}
}

func TestSealDetectsTamperedLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	sealPath := path + ".seal"

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	recipient := identity.Recipient().String()

	l, err := New(path, []string{recipient})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Log(map[string]any{"decision": "ALLOW", "target": "a"})
	l.Log(map[string]any{"decision": "ALLOW", "target": "b"})
	if err := l.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}

	if err := VerifyChain(path, sealPath, identity); err != nil {
		t.Fatalf("expected clean verify before tamper, got %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	tampered := []byte(string(raw)[:len(raw)-2] + "X\n")
	if err := os.WriteFile(path, tampered, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := VerifyChain(path, sealPath, identity); err == nil {
		t.Fatalf("expected verify to detect tampering")
	}
}

func TestLogResumesChainAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	l1, err := New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l1.Log(map[string]any{"decision": "ALLOW"})

	l2, err := New(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if l2.sequence != 1 {
		t.Fatalf("expected resumed sequence 1, got %d", l2.sequence)
	}
	if l2.prevHash != l1.prevHash {
		t.Fatalf("expected resumed chain head to match")
	}
}
