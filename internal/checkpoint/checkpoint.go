// Package checkpoint snapshots engine state at an event sequence number so
// replay only has to fold events recorded after the snapshot, and compares
// the replayed projection against live state to detect drift.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/conductor/internal/budget"
	"github.com/vinayprograms/conductor/internal/graph"
)

// Snapshot reasons.
const (
	ReasonHeartbeat = "heartbeat"
	ReasonPrePause  = "pre_pause"
	ReasonPreCancel = "pre_cancel"
	ReasonManual    = "manual"
)

// Snapshot captures run state as of a given event sequence number.
type Snapshot struct {
	ID        string        `json:"checkpoint_id"`
	RunID     string        `json:"run_id"`
	Seq       uint64        `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
	Reason    string        `json:"reason"`
	Status    string        `json:"status"`
	Rationale string        `json:"rationale,omitempty"`
	Tasks     []graph.Task  `json:"tasks"`
	Budget    budget.Budget `json:"budget"`
}

// Store persists snapshots under <dir>/<run_id>/checkpoints/<seq>.json.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a snapshot store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.dir, runID, "checkpoints")
}

// Save writes one snapshot.
func (s *Store) Save(cp Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.runDir(cp.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating checkpoints directory: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%012d.json", cp.Seq))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing checkpoint: %w", err)
	}
	return nil
}

// Nearest returns the snapshot with the highest Seq <= target, or nil when
// none qualifies.
func (s *Store) Nearest(runID string, target uint64) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.runDir(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	var seqs []uint64
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		seq, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		if seq <= target {
			seqs = append(seqs, seq)
		}
	}
	if len(seqs) == 0 {
		return nil, nil
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	best := seqs[len(seqs)-1]

	data, err := os.ReadFile(filepath.Join(s.runDir(runID), fmt.Sprintf("%012d.json", best)))
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var cp Snapshot
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &cp, nil
}

// Latest returns the most recent snapshot for a run, or nil.
func (s *Store) Latest(runID string) (*Snapshot, error) {
	return s.Nearest(runID, ^uint64(0))
}
