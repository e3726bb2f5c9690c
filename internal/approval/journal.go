package approval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Record kinds in the journal.
const (
	recordRequested = "requested"
	recordResolved  = "resolved"
)

// Journal is the append-only audit trail of approvals. Every request and
// every resolution lands here, so an approval remains loadable by id long
// after it left the pending queue.
type Journal struct {
	path string
	mu   sync.Mutex
}

// NewJournal creates a journal under dir.
func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating approval directory: %w", err)
	}
	return &Journal{path: filepath.Join(dir, "approvals.jsonl")}, nil
}

type journalRecord struct {
	Record     string      `json:"record"`
	Approval   *Approval   `json:"approval,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

func (j *Journal) append(rec journalRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening approvals.jsonl: %w", err)
	}
	defer f.Close()
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding approval record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing approval record: %w", err)
	}
	return nil
}

// Requested records a new approval.
func (j *Journal) Requested(a Approval) error {
	return j.append(journalRecord{Record: recordRequested, Approval: &a})
}

// Resolved records a decision.
func (j *Journal) Resolved(r Resolution) error {
	return j.append(journalRecord{Record: recordResolved, Resolution: &r})
}

// Lookup returns one approval and its resolution, if settled. A request
// with no matching resolution is still pending (or was lost to a restart).
func (j *Journal) Lookup(id string) (Approval, *Resolution, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Approval{}, nil, fmt.Errorf("looking up approval %s: %w", id, ErrNotFound)
		}
		return Approval{}, nil, fmt.Errorf("opening approvals.jsonl: %w", err)
	}
	defer f.Close()

	var (
		found Approval
		res   *Resolution
		seen  bool
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return Approval{}, nil, fmt.Errorf("decoding approval record: %w", err)
		}
		switch {
		case rec.Record == recordRequested && rec.Approval != nil && rec.Approval.ID == id:
			found = *rec.Approval
			seen = true
		case rec.Record == recordResolved && rec.Resolution != nil && rec.Resolution.ApprovalID == id:
			r := *rec.Resolution
			res = &r
		}
	}
	if err := scanner.Err(); err != nil {
		return Approval{}, nil, fmt.Errorf("reading approvals.jsonl: %w", err)
	}
	if !seen {
		return Approval{}, nil, fmt.Errorf("looking up approval %s: %w", id, ErrNotFound)
	}
	return found, res, nil
}
