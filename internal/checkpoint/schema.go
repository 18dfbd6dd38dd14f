package checkpoint

// SchemaVersion is the current checkpoint schema, MAJOR.MINOR.PATCH.
const SchemaVersion = "2.0.0"

var migrationStatements = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA foreign_keys=ON;`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS engagement (
		id TEXT PRIMARY KEY,
		scope_hash TEXT NOT NULL,
		created_at TEXT NOT NULL,
		schema_version TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS agents (
		engagement_id TEXT NOT NULL REFERENCES engagement(id),
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		state TEXT NOT NULL,
		last_action_id TEXT,
		decision_context TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (engagement_id, id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(type);`,
	`CREATE TABLE IF NOT EXISTS findings (
		engagement_id TEXT NOT NULL REFERENCES engagement(id),
		id TEXT NOT NULL,
		agent_id TEXT,
		payload TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		PRIMARY KEY (engagement_id, id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_findings_timestamp ON findings(timestamp);`,
	`CREATE TABLE IF NOT EXISTS checkpoint_history (
		engagement_id TEXT NOT NULL REFERENCES engagement(id),
		written_at TEXT NOT NULL,
		signature TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_history_engagement ON checkpoint_history(engagement_id);`,
	`CREATE TABLE IF NOT EXISTS audit (
		engagement_id TEXT NOT NULL REFERENCES engagement(id),
		ts TEXT NOT NULL,
		event TEXT NOT NULL
	);`,
}
