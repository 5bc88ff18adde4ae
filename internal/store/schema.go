package store

// schemaVersionV1 is the first ledger schema.
const schemaVersionV1 = 1

var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	config_path TEXT NOT NULL,
	seed INTEGER NOT NULL,
	append INTEGER NOT NULL DEFAULT 0,
	dry_run INTEGER NOT NULL DEFAULT 0,
	samples INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_counts (
	run_id TEXT NOT NULL,
	split TEXT NOT NULL CHECK (split IN ('train', 'val', 'test')),
	label INTEGER NOT NULL,
	count INTEGER NOT NULL,
	PRIMARY KEY (run_id, split, label),
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`
