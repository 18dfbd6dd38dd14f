// Package checkpoint implements the Checkpoint Store: per-engagement
// SQLite snapshots with a content signature and scope binding, written
// atomically (tmp file, fsync, rename).
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cyberredd/internal/session"

	_ "modernc.org/sqlite"
)

// Store persists engagement checkpoints under baseDir/engagements/{id}/checkpoint.sqlite.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) dir(engagementID string) string {
	return filepath.Join(s.baseDir, "engagements", engagementID)
}

func (s *Store) finalPath(engagementID string) string {
	return filepath.Join(s.dir(engagementID), "checkpoint.sqlite")
}

// Save writes a full checkpoint for engagementID atomically: it builds a
// fresh SQLite database at a tmp path, fsyncs it, then renames it over the
// final path. On any failure the tmp file is unlinked.
func (s *Store) Save(engagementID, scopeHash string, agents []session.AgentSnapshot, findings []session.Finding) (string, error) {
	dir := s.dir(engagementID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating engagement dir: %w", err)
	}
	tmpPath := filepath.Join(dir, "checkpoint.sqlite.tmp")
	_ = os.Remove(tmpPath)

	if err := s.writeTo(tmpPath, engagementID, scopeHash, agents, findings); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	tmpFile, err := os.Open(tmpPath)
	if err == nil {
		err = tmpFile.Sync()
		_ = tmpFile.Close()
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("syncing checkpoint: %w", err)
	}

	finalPath := s.finalPath(engagementID)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("renaming checkpoint into place: %w", err)
	}
	return finalPath, nil
}

func (s *Store) writeTo(path, engagementID, scopeHash string, agents []session.AgentSnapshot, findings []session.Finding) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening checkpoint db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, stmt := range migrationStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating checkpoint schema: %w", err)
		}
	}

	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	signature, err := contentSignature(engagementID, scopeHash, createdAt, agents, findings)
	if err != nil {
		return fmt.Errorf("computing content signature: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO engagement (id, scope_hash, created_at, schema_version) VALUES (?, ?, ?, ?)`,
		engagementID, scopeHash, createdAt, SchemaVersion); err != nil {
		return fmt.Errorf("writing engagement row: %w", err)
	}
	for _, a := range agents {
		stateJSON, _ := json.Marshal(a.State)
		contextJSON, _ := json.Marshal(a.DecisionContext)
		if _, err := tx.ExecContext(ctx, `INSERT INTO agents (engagement_id, id, type, state, last_action_id, decision_context, updated_at) VALUES (?,?,?,?,?,?,?)`,
			engagementID, a.ID, a.Type, string(stateJSON), a.LastActionID, string(contextJSON), a.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("writing agent row %s: %w", a.ID, err)
		}
	}
	for _, f := range findings {
		payloadJSON, _ := json.Marshal(f.Payload)
		if _, err := tx.ExecContext(ctx, `INSERT INTO findings (engagement_id, id, agent_id, payload, timestamp) VALUES (?,?,?,?,?)`,
			engagementID, f.ID, f.AgentID, string(payloadJSON), f.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("writing finding row %s: %w", f.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO metadata (key, value) VALUES ('content_signature', ?)`, signature); err != nil {
		return fmt.Errorf("writing signature metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO checkpoint_history (engagement_id, written_at, signature) VALUES (?,?,?)`,
		engagementID, createdAt, signature); err != nil {
		return fmt.Errorf("writing history row: %w", err)
	}
	return tx.Commit()
}

// Delete removes the checkpoint file for engagementID, used by
// remove_engagement to prevent zombie checkpoints.
func (s *Store) Delete(engagementID string) error {
	err := os.RemoveAll(s.dir(engagementID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting checkpoint for %s: %w", engagementID, err)
	}
	return nil
}

// ListCheckpoints walks the engagements directory, returning every
// engagement id with a checkpoint on disk.
func (s *Store) ListCheckpoints() ([]string, error) {
	root := filepath.Join(s.baseDir, "engagements")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), "checkpoint.sqlite")); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

