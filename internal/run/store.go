package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vinayprograms/conductor/internal/budget"
	"github.com/vinayprograms/conductor/internal/graph"
)

// Store persists run state as three JSON documents per run under
// <dir>/<run_id>/: run.json, tasks.json and budget.json. Events,
// checkpoints and blackboard patches live next to them in the same
// directory, each written by its own store.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a run store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.dir, runID)
}

func (s *Store) writeJSON(runID, name string, v any) error {
	dir := s.runDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing %s: %w", name, err)
	}
	return nil
}

func (s *Store) readJSON(runID, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.runDir(runID), name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

// Save writes the run, its tasks and its budget.
func (s *Store) Save(r Run, tasks []graph.Task, b budget.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeJSON(r.ID, "run.json", r); err != nil {
		return err
	}
	if err := s.writeJSON(r.ID, "tasks.json", tasks); err != nil {
		return err
	}
	return s.writeJSON(r.ID, "budget.json", b)
}

// Load reads a persisted run back.
func (s *Store) Load(runID string) (Run, []graph.Task, budget.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r Run
	if err := s.readJSON(runID, "run.json", &r); err != nil {
		return Run{}, nil, budget.Budget{}, fmt.Errorf("loading run %s: %w", runID, err)
	}
	var tasks []graph.Task
	if err := s.readJSON(runID, "tasks.json", &tasks); err != nil && !os.IsNotExist(err) {
		return Run{}, nil, budget.Budget{}, fmt.Errorf("loading tasks for %s: %w", runID, err)
	}
	var b budget.Budget
	if err := s.readJSON(runID, "budget.json", &b); err != nil && !os.IsNotExist(err) {
		return Run{}, nil, budget.Budget{}, fmt.Errorf("loading budget for %s: %w", runID, err)
	}
	return r, tasks, b, nil
}

// List returns the persisted run ids, most recently modified first.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, e.Name(), "run.json")); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
