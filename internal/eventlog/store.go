package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists events as one JSON object per line in
// <dir>/<run_id>/events.jsonl. Append-only; nothing is ever rewritten.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating event store directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// ForRun returns an Appender bound to one run.
func (s *Store) ForRun(runID string) Appender {
	return &runAppender{store: s, runID: runID}
}

type runAppender struct {
	store *Store
	runID string
}

func (a *runAppender) Append(ev Event) error {
	return a.store.append(a.runID, ev)
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.dir, runID, "events.jsonl")
}

func (s *Store) append(runID string, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The engine can emit events before the run directory exists, e.g.
	// on early failures.
	if err := os.MkdirAll(filepath.Join(s.dir, runID), 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	f, err := os.OpenFile(s.path(runID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening events.jsonl: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Load reads a run's events with Seq > sinceSeq. tail > 0 keeps only the
// last tail entries after filtering.
func (s *Store) Load(runID string, sinceSeq uint64, tail int) ([]Event, error) {
	f, err := os.Open(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening events.jsonl: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decoding event line: %w", err)
		}
		if ev.Seq > sinceSeq {
			events = append(events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading events.jsonl: %w", err)
	}

	if tail > 0 && len(events) > tail {
		events = events[len(events)-tail:]
	}
	return events, nil
}

// LatestSeq returns the highest sequence number persisted for a run, or 0.
func (s *Store) LatestSeq(runID string) (uint64, error) {
	events, err := s.Load(runID, 0, 0)
	if err != nil {
		return 0, err
	}
	var latest uint64
	for _, ev := range events {
		if ev.Seq > latest {
			latest = ev.Seq
		}
	}
	return latest, nil
}
