// Package run drives one orchestrated run from objective to terminal
// state: planning, plan approval, budgeted parallel execution of the task
// graph, pause/resume/cancel/restart, checkpointing and replay auditing.
package run

import (
	"time"

	"github.com/vinayprograms/conductor/internal/budget"
	"github.com/vinayprograms/conductor/internal/graph"
)

// RunStatus is the run-level lifecycle state.
type RunStatus string

const (
	StatusQueued            RunStatus = "queued"
	StatusPlanning          RunStatus = "planning"
	StatusAwaitingApproval  RunStatus = "awaiting_approval"
	StatusRevisionRequested RunStatus = "revision_requested"
	StatusExecuting         RunStatus = "executing"
	StatusPaused            RunStatus = "paused"
	StatusBlocked           RunStatus = "blocked"
	StatusCompleted         RunStatus = "completed"
	StatusFailed            RunStatus = "failed"
	StatusCancelled         RunStatus = "cancelled"
)

// Terminal reports whether the status accepts only restart.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Run is the durable identity and state of one orchestrated run.
type Run struct {
	ID        string    `json:"run_id"`
	Objective string    `json:"objective"`
	Model     string    `json:"model,omitempty"`
	MissionID string    `json:"mission_id,omitempty"`
	RoutineID string    `json:"routine_id,omitempty"`
	Status    RunStatus `json:"status"`
	Rationale string    `json:"rationale,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Snapshot is a point-in-time copy of a run's full state for callers.
type Snapshot struct {
	Run    Run           `json:"run"`
	Tasks  []graph.Task  `json:"tasks"`
	Budget budget.Budget `json:"budget"`
	Seq    uint64        `json:"seq"`
}

// Summary is the condensed listing view.
type Summary struct {
	ID           string    `json:"run_id"`
	Objective    string    `json:"objective"`
	Status       RunStatus `json:"status"`
	TaskCount    int       `json:"task_count"`
	DoneCount    int       `json:"done_count"`
	UsagePercent float64   `json:"usage_percent"`
	CreatedAt    time.Time `json:"created_at"`
}
