package checkpoint

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"cyberredd/internal/cerr"
	"cyberredd/internal/session"

	_ "modernc.org/sqlite"
)

// Checkpoint is the fully-loaded, verified record returned by Load.
type Checkpoint struct {
	EngagementID string
	ScopeHash    string
	CreatedAt    time.Time
	SchemaVersion string
	Agents       []session.AgentSnapshot
	Findings     []session.Finding
	Signature    string
}

// LoadOptions configure Load's scope-binding check.
type LoadOptions struct {
	ScopePath   string // empty disables scope binding entirely
	VerifyScope bool
}

// Load opens the checkpoint at path and runs the full load contract:
// version check, signature check, and (unless disabled) scope binding.
func (s *Store) Load(path string, opts LoadOptions, logger *log.Logger) (*Checkpoint, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &cerr.FileNotFoundError{Path: path}
		}
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint %s: %w", path, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	var engagementID, scopeHash, createdAtRaw, storedSchema string
	row := db.QueryRowContext(ctx, `SELECT id, scope_hash, created_at, schema_version FROM engagement LIMIT 1`)
	if err := row.Scan(&engagementID, &scopeHash, &createdAtRaw, &storedSchema); err != nil {
		return nil, fmt.Errorf("reading engagement row: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, createdAtRaw)

	if cmp, ok := compareSchemaVersions(storedSchema, SchemaVersion); ok {
		if cmp > 0 {
			return nil, &cerr.IncompatibleSchemaError{Stored: storedSchema, Current: SchemaVersion}
		}
		if cmp < 0 && logger != nil {
			logger.Printf("checkpoint %s schema %s is older than current %s: upgrade available", engagementID, storedSchema, SchemaVersion)
		}
	} else if logger != nil {
		logger.Printf("checkpoint %s has unparseable schema version %q; loading anyway", engagementID, storedSchema)
	}

	agents, err := loadAgents(ctx, db, engagementID)
	if err != nil {
		return nil, err
	}
	findings, err := loadFindings(ctx, db, engagementID)
	if err != nil {
		return nil, err
	}

	var storedSignature string
	if err := db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key='content_signature'`).Scan(&storedSignature); err != nil {
		return nil, fmt.Errorf("reading stored signature: %w", err)
	}
	recomputed, err := contentSignature(engagementID, scopeHash, createdAtRaw, agents, findings)
	if err != nil {
		return nil, err
	}
	if recomputed != storedSignature {
		return nil, &cerr.CheckpointIntegrityError{
			EngagementID:     engagementID,
			VerificationType: cerr.VerifySignature,
			Message:          "recomputed content signature does not match stored signature",
		}
	}

	if opts.ScopePath != "" && opts.VerifyScope {
		currentHash, err := sha256File(opts.ScopePath)
		if err != nil {
			return nil, fmt.Errorf("hashing current scope file: %w", err)
		}
		if currentHash != scopeHash {
			return nil, cerr.NewCheckpointScopeChangedError(engagementID, "current scope file hash differs from the checkpoint's bound scope hash")
		}
	}

	return &Checkpoint{
		EngagementID:  engagementID,
		ScopeHash:     scopeHash,
		CreatedAt:     createdAt,
		SchemaVersion: storedSchema,
		Agents:        agents,
		Findings:      findings,
		Signature:     storedSignature,
	}, nil
}

// Verify is a read-only version of Load for CLI use: it runs Load with
// empty LoadOptions and no scope hasher, so the scope binding is not
// checked, and discards the result, returning only the error (if any).
func (s *Store) Verify(path string) error {
	_, err := s.Load(path, LoadOptions{}, nil)
	return err
}

func loadAgents(ctx context.Context, db *sql.DB, engagementID string) ([]session.AgentSnapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, type, state, last_action_id, decision_context, updated_at FROM agents WHERE engagement_id=? ORDER BY id`, engagementID)
	if err != nil {
		return nil, fmt.Errorf("reading agents: %w", err)
	}
	defer rows.Close()
	var out []session.AgentSnapshot
	for rows.Next() {
		var a session.AgentSnapshot
		var stateJSON, contextJSON, updatedAtRaw string
		var lastActionID sql.NullString
		if err := rows.Scan(&a.ID, &a.Type, &stateJSON, &lastActionID, &contextJSON, &updatedAtRaw); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		a.LastActionID = lastActionID.String
		_ = json.Unmarshal([]byte(stateJSON), &a.State)
		_ = json.Unmarshal([]byte(contextJSON), &a.DecisionContext)
		a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtRaw)
		out = append(out, a)
	}
	return out, rows.Err()
}

func loadFindings(ctx context.Context, db *sql.DB, engagementID string) ([]session.Finding, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, agent_id, payload, timestamp FROM findings WHERE engagement_id=? ORDER BY id`, engagementID)
	if err != nil {
		return nil, fmt.Errorf("reading findings: %w", err)
	}
	defer rows.Close()
	var out []session.Finding
	for rows.Next() {
		var f session.Finding
		var payloadJSON, timestampRaw string
		var agentID sql.NullString
		if err := rows.Scan(&f.ID, &agentID, &payloadJSON, &timestampRaw); err != nil {
			return nil, fmt.Errorf("scanning finding row: %w", err)
		}
		f.AgentID = agentID.String
		_ = json.Unmarshal([]byte(payloadJSON), &f.Payload)
		f.Timestamp, _ = time.Parse(time.RFC3339Nano, timestampRaw)
		out = append(out, f)
	}
	return out, rows.Err()
}

func sha256File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// compareSchemaVersions compares two MAJOR.MINOR.PATCH strings. ok is
// false when stored cannot be parsed (tolerated: "unparseable is logged
// but tolerated").
func compareSchemaVersions(stored, current string) (cmp int, ok bool) {
	sv, sok := parseVersion(stored)
	cv, cok := parseVersion(current)
	if !sok || !cok {
		return 0, false
	}
	for i := 0; i < 3; i++ {
		if sv[i] != cv[i] {
			if sv[i] > cv[i] {
				return 1, true
			}
			return -1, true
		}
	}
	return 0, true
}

func parseVersion(v string) ([3]int, bool) {
	var out [3]int
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return out, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
