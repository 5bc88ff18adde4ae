package store

import "errors"

// DefaultDBPath is the default relative path for the SQLite run ledger.
// Open() creates the parent dir (e.g. .cxr).
const DefaultDBPath = ".cxr/ledger.db"

// ErrNotFound is returned by GetRun for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// ClassCount is the number of rows of one label written to one split.
type ClassCount struct {
	Split string
	Label int
	Count int
}

// Run is one execution of the SIIM preprocessing step.
type Run struct {
	ID         string
	StartedAt  string // RFC 3339, UTC
	ConfigPath string
	Seed       int64
	Append     bool
	DryRun     bool
	Samples    int // joined samples before splitting
	Counts     []ClassCount
}

// Total returns the number of rows recorded for split, or all splits when split is "".
func (r *Run) Total(split string) int {
	n := 0
	for _, c := range r.Counts {
		if split == "" || c.Split == split {
			n += c.Count
		}
	}
	return n
}

// Store is the run ledger. Implementations are SQLite (SqlStore) or in-memory (MemStore).
type Store interface {
	SaveRun(run *Run) error
	GetRun(id string) (*Run, error)
	// ListRuns returns runs newest first.
	ListRuns() ([]*Run, error)
	Close() error
}
