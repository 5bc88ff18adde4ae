package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory Store for tests. Implements Store.
type MemStore struct {
	mu    sync.Mutex
	runs  map[string]*Run
	order []string
}

// NewMemStore returns a new in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{runs: make(map[string]*Run)}
}

// SaveRun implements Store.
func (s *MemStore) SaveRun(run *Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.runs[run.ID]; dup {
		return fmt.Errorf("run %s already saved", run.ID)
	}
	if run.StartedAt == "" {
		run.StartedAt = nowUTC()
	}
	s.runs[run.ID] = cloneRun(run)
	s.order = append(s.order, run.ID)
	return nil
}

// GetRun implements Store.
func (s *MemStore) GetRun(id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneRun(r), nil
}

// ListRuns implements Store.
func (s *MemStore) ListRuns() ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, cloneRun(s.runs[s.order[i]]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	return out, nil
}

// Close implements Store.
func (s *MemStore) Close() error { return nil }

func cloneRun(r *Run) *Run {
	cp := *r
	cp.Counts = append([]ClassCount(nil), r.Counts...)
	return &cp
}
