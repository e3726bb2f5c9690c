// Package approval queues pending human decisions that gate risky actions.
// Spawn and tool approvals share one queue; each unresolved approval blocks
// exactly the action it gates and nothing else. Waiters block on a channel
// keyed by approval id, so resolution is message passing rather than a
// callback.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind of gated request.
type Kind string

const (
	KindSpawn Kind = "spawn"
	KindTool  Kind = "tool"
)

// ErrNotFound is returned when resolving an unknown or already settled
// approval id.
var ErrNotFound = errors.New("approval not found")

// ErrDenied is returned to a waiter whose request was denied. Denial is
// terminal for that request; the requester may re-request with an updated
// justification.
var ErrDenied = errors.New("approval denied")

// SpawnRequest is the payload of a spawn approval.
type SpawnRequest struct {
	Role          string `json:"role"`
	MissionID     string `json:"mission_id,omitempty"`
	ParentID      string `json:"parent_id,omitempty"`
	Justification string `json:"justification"`
}

// ToolRequest is the payload of a tool approval. Args travel with the tool
// call itself; the approval inherits them by reference through CallID.
type ToolRequest struct {
	SessionID string `json:"session_id"`
	Tool      string `json:"tool"`
	CallID    string `json:"call_id"`
}

// Approval is one pending decision.
type Approval struct {
	ID          string        `json:"approval_id"`
	Kind        Kind          `json:"kind"`
	Spawn       *SpawnRequest `json:"spawn,omitempty"`
	Tool        *ToolRequest  `json:"tool,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
}

// Resolution records an operator decision.
type Resolution struct {
	ApprovalID string    `json:"approval_id"`
	Approved   bool      `json:"approved"`
	Reason     string    `json:"reason"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Gate is the shared pending-decision queue.
type Gate struct {
	mu      sync.Mutex
	pending map[string]Approval
	waiters map[string]chan Resolution
	journal *Journal
}

// SetJournal attaches the audit trail. Requests and resolutions are
// journalled best-effort; a write failure never blocks the decision.
func (g *Gate) SetJournal(j *Journal) {
	g.mu.Lock()
	g.journal = j
	g.mu.Unlock()
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{
		pending: make(map[string]Approval),
		waiters: make(map[string]chan Resolution),
	}
}

// RequestSpawn queues a spawn approval and returns its id.
func (g *Gate) RequestSpawn(req SpawnRequest) Approval {
	return g.add(Approval{Kind: KindSpawn, Spawn: &req})
}

// RequestTool queues a tool approval and returns its id.
func (g *Gate) RequestTool(req ToolRequest) Approval {
	return g.add(Approval{Kind: KindTool, Tool: &req})
}

func (g *Gate) add(a Approval) Approval {
	a.ID = uuid.NewString()
	a.RequestedAt = time.Now().UTC()

	g.mu.Lock()
	g.pending[a.ID] = a
	// Buffered so Resolve never blocks on an absent waiter.
	g.waiters[a.ID] = make(chan Resolution, 1)
	journal := g.journal
	g.mu.Unlock()
	if journal != nil {
		_ = journal.Requested(a)
	}
	return a
}

// Resolve settles a pending approval. The approval leaves the pending set;
// settling the same id twice is an error. The waiter entry stays until a
// waiter consumes the buffered resolution, so resolving before Await is
// called never loses the decision.
func (g *Gate) Resolve(id string, approved bool, reason string) (Resolution, error) {
	g.mu.Lock()
	_, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return Resolution{}, fmt.Errorf("resolving approval %s: %w", id, ErrNotFound)
	}
	delete(g.pending, id)
	waiter := g.waiters[id]
	journal := g.journal
	g.mu.Unlock()

	res := Resolution{
		ApprovalID: id,
		Approved:   approved,
		Reason:     reason,
		ResolvedAt: time.Now().UTC(),
	}
	if journal != nil {
		_ = journal.Resolved(res)
	}
	waiter <- res
	return res, nil
}

// ResolveCall settles a pending tool approval addressed by the session and
// call that raised it, for operators who never saw the approval id.
func (g *Gate) ResolveCall(sessionID, callID string, approved bool, reason string) (Resolution, error) {
	g.mu.Lock()
	var id string
	for _, a := range g.pending {
		if a.Kind == KindTool && a.Tool != nil &&
			a.Tool.SessionID == sessionID && a.Tool.CallID == callID {
			id = a.ID
			break
		}
	}
	g.mu.Unlock()
	if id == "" {
		return Resolution{}, fmt.Errorf("resolving tool call %s/%s: %w", sessionID, callID, ErrNotFound)
	}
	return g.Resolve(id, approved, reason)
}

// Await blocks until the approval resolves or the context is cancelled.
// A denial returns ErrDenied wrapped with the operator's reason.
func (g *Gate) Await(ctx context.Context, id string) (Resolution, error) {
	g.mu.Lock()
	waiter, ok := g.waiters[id]
	g.mu.Unlock()
	if !ok {
		return Resolution{}, fmt.Errorf("awaiting approval %s: %w", id, ErrNotFound)
	}

	select {
	case res := <-waiter:
		g.mu.Lock()
		delete(g.waiters, id)
		g.mu.Unlock()
		if !res.Approved {
			return res, fmt.Errorf("%w: %s", ErrDenied, res.Reason)
		}
		return res, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// Pending lists unresolved approvals, oldest first.
func (g *Gate) Pending() []Approval {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Approval, 0, len(g.pending))
	for _, a := range g.pending {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// Get returns one pending approval by id.
func (g *Gate) Get(id string) (Approval, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.pending[id]
	return a, ok
}
