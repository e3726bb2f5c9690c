package blackboard

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists blackboard patches as JSONL per run. Loading a board is
// always a fold over the patch log; the board itself is never written.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a patch store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating blackboard directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.dir, runID, "blackboard.jsonl")
}

// Append records one patch. payload is marshalled for the caller.
func (s *Store) Append(runID string, seq uint64, op string, payload any) (Patch, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Patch{}, fmt.Errorf("encoding patch payload: %w", err)
	}
	p := Patch{Seq: seq, Op: op, Payload: raw, Timestamp: time.Now().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Join(s.dir, runID), 0755); err != nil {
		return Patch{}, fmt.Errorf("creating run directory: %w", err)
	}
	f, err := os.OpenFile(s.path(runID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return Patch{}, fmt.Errorf("opening blackboard.jsonl: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(p)
	if err != nil {
		return Patch{}, fmt.Errorf("encoding patch: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Patch{}, fmt.Errorf("writing patch: %w", err)
	}
	return p, nil
}

// Patches loads a run's patch log in append order.
func (s *Store) Patches(runID string) ([]Patch, error) {
	f, err := os.Open(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening blackboard.jsonl: %w", err)
	}
	defer f.Close()

	var patches []Patch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p Patch
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, fmt.Errorf("decoding patch line: %w", err)
		}
		patches = append(patches, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading blackboard.jsonl: %w", err)
	}
	return patches, nil
}

// Load rebuilds a run's board from its patch log.
func (s *Store) Load(runID string) (Blackboard, error) {
	patches, err := s.Patches(runID)
	if err != nil {
		return Blackboard{}, err
	}
	return Fold(patches)
}
