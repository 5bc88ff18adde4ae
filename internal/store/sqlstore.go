package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = schemaVersionV1

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .cxr) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableCount == 0 {
		if _, err := s.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}

	var v int
	err = s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != currentSchemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the database connection.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts the run and its per-class counts in one transaction.
func (s *SqlStore) SaveRun(run *Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run has no id")
	}
	if run.StartedAt == "" {
		run.StartedAt = nowUTC()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO runs(id, started_at, config_path, seed, append, dry_run, samples)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.ConfigPath, run.Seed, boolInt(run.Append), boolInt(run.DryRun), run.Samples,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, c := range run.Counts {
		if _, err := tx.Exec(
			"INSERT INTO run_counts(run_id, split, label, count) VALUES(?, ?, ?, ?)",
			run.ID, c.Split, c.Label, c.Count,
		); err != nil {
			return fmt.Errorf("insert count %s/%d: %w", c.Split, c.Label, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// GetRun returns the run with its counts, or ErrNotFound.
func (s *SqlStore) GetRun(id string) (*Run, error) {
	var r Run
	var appendFlag, dryRun int
	err := s.db.QueryRow(
		`SELECT id, started_at, config_path, seed, append, dry_run, samples FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.StartedAt, &r.ConfigPath, &r.Seed, &appendFlag, &dryRun, &r.Samples)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.Append = appendFlag == 1
	r.DryRun = dryRun == 1
	counts, err := s.counts(r.ID)
	if err != nil {
		return nil, err
	}
	r.Counts = counts
	return &r, nil
}

// ListRuns returns all runs, newest first.
func (s *SqlStore) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, config_path, seed, append, dry_run, samples
		 FROM runs ORDER BY started_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var list []*Run
	for rows.Next() {
		var r Run
		var appendFlag, dryRun int
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.ConfigPath, &r.Seed, &appendFlag, &dryRun, &r.Samples); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Append = appendFlag == 1
		r.DryRun = dryRun == 1
		list = append(list, &r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list runs: %w", err)
	}
	rows.Close()

	for _, r := range list {
		counts, err := s.counts(r.ID)
		if err != nil {
			return nil, err
		}
		r.Counts = counts
	}
	return list, nil
}

func (s *SqlStore) counts(runID string) ([]ClassCount, error) {
	rows, err := s.db.Query(
		`SELECT split, label, count FROM run_counts WHERE run_id = ?
		 ORDER BY CASE split WHEN 'train' THEN 0 WHEN 'val' THEN 1 ELSE 2 END, label`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list counts: %w", err)
	}
	defer rows.Close()
	var out []ClassCount
	for rows.Next() {
		var c ClassCount
		if err := rows.Scan(&c.Split, &c.Label, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
