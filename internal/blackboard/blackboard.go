// Package blackboard is the shared working memory for a run: facts,
// decisions, open questions, artifact references and a rolling summary.
// State is a fold over an append-mostly patch log, so any observer can
// rebuild the identical board.
package blackboard

import (
	"encoding/json"
	"fmt"
	"time"
)

// Patch operations.
const (
	OpAddFact           = "add_fact"
	OpAddDecision       = "add_decision"
	OpAddOpenQuestion   = "add_open_question"
	OpAddArtifact       = "add_artifact"
	OpSetRollingSummary = "set_rolling_summary"
)

// Item is one fact, decision or open question. SourceSeq ties the entry
// back to the event that produced it.
type Item struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SourceSeq uint64    `json:"source_seq,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactRef points at an artifact produced during the run.
type ArtifactRef struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind,omitempty"`
	SourceSeq uint64    `json:"source_seq,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Blackboard is the folded board state.
type Blackboard struct {
	Facts          []Item        `json:"facts,omitempty"`
	Decisions      []Item        `json:"decisions,omitempty"`
	OpenQuestions  []Item        `json:"open_questions,omitempty"`
	Artifacts      []ArtifactRef `json:"artifacts,omitempty"`
	RollingSummary string        `json:"rolling_summary,omitempty"`
	Revision       uint64        `json:"revision"`
}

// Patch is one append-only mutation record.
type Patch struct {
	Seq       uint64          `json:"seq"`
	Op        string          `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Apply folds one patch into the board. Unknown operations are an error so
// a corrupted patch log surfaces instead of silently dropping entries.
func Apply(bb *Blackboard, p Patch) error {
	switch p.Op {
	case OpAddFact:
		var item Item
		if err := json.Unmarshal(p.Payload, &item); err != nil {
			return fmt.Errorf("decoding fact payload: %w", err)
		}
		bb.Facts = append(bb.Facts, item)
	case OpAddDecision:
		var item Item
		if err := json.Unmarshal(p.Payload, &item); err != nil {
			return fmt.Errorf("decoding decision payload: %w", err)
		}
		bb.Decisions = append(bb.Decisions, item)
	case OpAddOpenQuestion:
		var item Item
		if err := json.Unmarshal(p.Payload, &item); err != nil {
			return fmt.Errorf("decoding open question payload: %w", err)
		}
		bb.OpenQuestions = append(bb.OpenQuestions, item)
	case OpAddArtifact:
		var ref ArtifactRef
		if err := json.Unmarshal(p.Payload, &ref); err != nil {
			return fmt.Errorf("decoding artifact payload: %w", err)
		}
		bb.Artifacts = append(bb.Artifacts, ref)
	case OpSetRollingSummary:
		var summary string
		if err := json.Unmarshal(p.Payload, &summary); err != nil {
			return fmt.Errorf("decoding rolling summary payload: %w", err)
		}
		bb.RollingSummary = summary
	default:
		return fmt.Errorf("unknown blackboard op %q", p.Op)
	}
	bb.Revision++
	return nil
}

// Fold rebuilds a board from a patch sequence.
func Fold(patches []Patch) (Blackboard, error) {
	var bb Blackboard
	for _, p := range patches {
		if err := Apply(&bb, p); err != nil {
			return bb, err
		}
	}
	return bb, nil
}
