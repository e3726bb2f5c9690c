// Package eventlog is the append-only, sequenced record of every decision
// the engine makes. All other components emit into it and derive their
// projections from it; events are never mutated or deleted.
package eventlog

import "time"

// Event types. The taxonomy is fixed; payloads carry the variable parts.
const (
	// Run lifecycle
	TypeRunCreated   = "run_created"
	TypeRunStarted   = "run_started"
	TypeRunPaused    = "run_paused"
	TypeRunResumed   = "run_resumed"
	TypeRunCompleted = "run_completed"
	TypeRunFailed    = "run_failed"
	TypeRunCancelled = "run_cancelled"
	TypeRunRestarted = "run_restarted"
	TypeRunBlocked   = "run_blocked"

	// Planning and decisions
	TypePlanningStarted   = "planning_started"
	TypePlanGenerated     = "plan_generated"
	TypePlanApproved      = "plan_approved"
	TypeRevisionRequested = "revision_requested"
	TypeDecision          = "decision"

	// Task lifecycle
	TypeTaskRunnable  = "task_runnable"
	TypeTaskStarted   = "task_started"
	TypeTaskCompleted = "task_completed"
	TypeTaskFailed    = "task_failed"
	TypeTaskRetried   = "task_retried"
	TypeTaskBlocked   = "task_blocked"
	TypeTaskTrace     = "task_trace"
	TypeGateCleared   = "gate_cleared"

	// Budget
	TypeBudgetUpdated  = "budget_updated"
	TypeBudgetExceeded = "budget_exceeded"
	TypeBudgetExtended = "budget_extended"

	// Approvals
	TypeApprovalRequested = "approval_requested"
	TypeApprovalGranted   = "approval_granted"
	TypeApprovalDenied    = "approval_denied"

	// Instances and missions
	TypeInstanceSpawned   = "instance_spawned"
	TypeInstanceCancelled = "instance_cancelled"
	TypeMissionCancelled  = "mission_cancelled"

	// Contract conditions from planning/validation output
	TypeContractError   = "contract_error"
	TypeContractWarning = "contract_warning"

	// Reliability conditions: surfaced, never auto-healed
	TypeWorkspaceMismatch = "workspace_mismatch"
	TypeLoopEscalation    = "loop_escalation"
	TypeLogGap            = "log_gap"
	TypeReplayDrift       = "replay_drift"

	// Checkpoint markers
	TypeCheckpointCreated = "checkpoint_created"
)

// Event is one immutable entry in a run's log. Seq is strictly increasing
// and gapless within a run; a gap means log corruption.
type Event struct {
	ID        string         `json:"event_id"`
	RunID     string         `json:"run_id"`
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}
