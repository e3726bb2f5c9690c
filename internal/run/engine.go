package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/conductor/internal/blackboard"
	"github.com/vinayprograms/conductor/internal/budget"
	"github.com/vinayprograms/conductor/internal/checkpoint"
	"github.com/vinayprograms/conductor/internal/config"
	"github.com/vinayprograms/conductor/internal/eventlog"
	"github.com/vinayprograms/conductor/internal/graph"
	"github.com/vinayprograms/conductor/internal/planner"
	"github.com/vinayprograms/conductor/internal/stream"
)

// Sentinel errors for lifecycle misuse.
var (
	ErrNotAwaitingApproval = errors.New("run is not awaiting plan approval")
	ErrNotExecuting        = errors.New("run is not executing")
	ErrNotPaused           = errors.New("run is not paused")
	ErrNotTerminal         = errors.New("run is not in a terminal state")
	ErrNotQueued           = errors.New("run has already started")
	ErrUnknownTask         = errors.New("unknown task")
	ErrGateNotPending      = errors.New("task is not awaiting gate clearance")
)

// TaskResult is what a task executor returns on success.
type TaskResult struct {
	Output    string
	Tokens    uint64
	SessionID string
}

// TaskExecutor runs one task attempt. Implementations must honor ctx: the
// engine cancels it on pause, cancel and per-attempt timeout.
type TaskExecutor interface {
	Execute(ctx context.Context, t graph.Task) (TaskResult, error)
}

// Options wires an engine's collaborators.
type Options struct {
	Run          Run
	Budget       budget.Budget
	Log          *eventlog.Log
	Checkpoints  *checkpoint.Store
	Store        *Store
	Planner      *planner.Planner
	Executor     TaskExecutor
	Admitter     *graph.Admitter
	Orchestrator config.OrchestratorConfig
	Publisher    stream.Publisher
	Board        *blackboard.Store
}

// Engine owns one run. All state transitions happen under its mutex and
// every transition is recorded in the event log before callers observe it.
type Engine struct {
	mu     sync.Mutex
	run    Run
	tasks  []graph.Task
	budget budget.Budget

	log   *eventlog.Log
	cps   *checkpoint.Store
	store *Store
	board *blackboard.Store
	plan  *planner.Planner
	exec  TaskExecutor
	admit *graph.Admitter
	cfg   config.OrchestratorConfig
	pub   stream.Publisher
	llog  *logging.Logger

	inflight   map[string]context.CancelFunc
	results    chan taskOutcome
	wake       chan struct{}
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	lastWall   time.Time
}

// NewEngine builds an engine around an existing run record.
func NewEngine(opts Options) *Engine {
	r := opts.Run
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusQueued
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = stream.Nop{}
	}
	return &Engine{
		run:      r,
		budget:   opts.Budget,
		log:      opts.Log,
		cps:      opts.Checkpoints,
		store:    opts.Store,
		board:    opts.Board,
		plan:     opts.Planner,
		exec:     opts.Executor,
		admit:    opts.Admitter,
		cfg:      opts.Orchestrator,
		pub:      pub,
		llog:     logging.New().WithComponent("run"),
		inflight: make(map[string]context.CancelFunc),
		wake:     make(chan struct{}, 1),
	}
}

// ID returns the run id.
func (e *Engine) ID() string {
	return e.run.ID
}

// emit appends an event and mirrors it to the cross-scope stream. Caller
// holds e.mu.
func (e *Engine) emit(evType, taskID string, payload map[string]any) eventlog.Event {
	ev, err := e.log.Append(evType, taskID, payload)
	if err != nil {
		e.llog.Warn("event persist failed", map[string]interface{}{
			"run_id": e.run.ID,
			"type":   evType,
			"error":  err.Error(),
		})
	}
	if err := e.pub.Publish(stream.Envelope{
		Scope:     stream.ScopeRun,
		Kind:      evType,
		RunID:     e.run.ID,
		RefID:     taskID,
		Timestamp: ev.Timestamp,
		Payload:   payload,
	}); err != nil {
		e.llog.Warn("stream publish failed", map[string]interface{}{
			"run_id": e.run.ID,
			"type":   evType,
			"error":  err.Error(),
		})
	}
	return ev
}

// persist writes run state best-effort. Caller holds e.mu.
func (e *Engine) persist() {
	if e.store == nil {
		return
	}
	if err := e.store.Save(e.run, e.tasks, e.budget); err != nil {
		e.llog.Warn("run persist failed", map[string]interface{}{
			"run_id": e.run.ID,
			"error":  err.Error(),
		})
	}
}

// Start moves a queued run through planning to awaiting_approval.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.run.Status != StatusQueued {
		e.mu.Unlock()
		return fmt.Errorf("starting run %s in %s: %w", e.run.ID, e.run.Status, ErrNotQueued)
	}
	e.run.Status = StatusPlanning
	e.run.StartedAt = time.Now().UTC()
	e.emit(eventlog.TypePlanningStarted, "", map[string]any{"objective": e.run.Objective})
	e.mu.Unlock()

	return e.generatePlan(ctx, "")
}

// RequestRevision rejects the pending plan and replans with feedback.
func (e *Engine) RequestRevision(ctx context.Context, feedback string) error {
	e.mu.Lock()
	if e.run.Status != StatusAwaitingApproval {
		e.mu.Unlock()
		return fmt.Errorf("revising run %s in %s: %w", e.run.ID, e.run.Status, ErrNotAwaitingApproval)
	}
	e.run.Status = StatusPlanning
	e.emit(eventlog.TypeRevisionRequested, "", map[string]any{"why": feedback})
	e.mu.Unlock()

	return e.generatePlan(ctx, feedback)
}

// generatePlan runs one planning attempt and settles the run into
// awaiting_approval or failed.
func (e *Engine) generatePlan(ctx context.Context, feedback string) error {
	var rolling string
	if e.board != nil {
		if bb, err := e.board.Load(e.run.ID); err == nil {
			rolling = bb.RollingSummary
		}
	}
	ctx, span := startPlanningSpan(ctx, e.run.ID, feedback != "")
	plan, err := e.plan.Plan(ctx, planner.Request{
		Objective:        e.run.Objective,
		RollingSummary:   rolling,
		RevisionFeedback: feedback,
	})
	endPlanningSpan(span, plan, err)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		var cerr *planner.ContractError
		if errors.As(err, &cerr) {
			e.emit(eventlog.TypeContractError, "", map[string]any{"why": cerr.Reason})
		}
		e.run.Status = StatusFailed
		e.run.Rationale = fmt.Sprintf("planning failed: %v", err)
		e.run.EndedAt = time.Now().UTC()
		e.emit(eventlog.TypeRunFailed, "", map[string]any{"why": e.run.Rationale})
		e.persist()
		return fmt.Errorf("planning run %s: %w", e.run.ID, err)
	}

	for _, w := range plan.Warnings {
		e.emit(eventlog.TypeContractWarning, "", map[string]any{"why": w})
	}
	e.tasks = plan.Tasks
	e.budget = e.budget.Record(budget.Delta{Tokens: uint64(plan.InputTokens + plan.OutputTokens)})
	e.run.Status = StatusAwaitingApproval
	e.run.Rationale = plan.Rationale
	e.emit(eventlog.TypePlanGenerated, "", map[string]any{
		"task_count": len(plan.Tasks),
		"why":        plan.Rationale,
	})
	e.boardAppend(blackboard.OpSetRollingSummary, plan.Rationale)
	e.persist()
	return nil
}

// boardAppend records a blackboard patch best-effort. Caller holds e.mu.
func (e *Engine) boardAppend(op string, payload any) {
	if e.board == nil {
		return
	}
	if _, err := e.board.Append(e.run.ID, e.log.Seq(), op, payload); err != nil {
		e.llog.Warn("blackboard append failed", map[string]interface{}{
			"run_id": e.run.ID,
			"op":     op,
			"error":  err.Error(),
		})
	}
}

// Board rebuilds the run's blackboard from its patch log.
func (e *Engine) Board() (blackboard.Blackboard, error) {
	if e.board == nil {
		return blackboard.Blackboard{}, nil
	}
	return e.board.Load(e.run.ID)
}

// Approve accepts the pending plan and begins execution.
func (e *Engine) Approve(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Status != StatusAwaitingApproval {
		return fmt.Errorf("approving run %s in %s: %w", e.run.ID, e.run.Status, ErrNotAwaitingApproval)
	}
	e.run.Status = StatusExecuting
	if reason != "" {
		e.run.Rationale = reason
	}
	e.emit(eventlog.TypePlanApproved, "", map[string]any{"why": e.run.Rationale})
	e.startLoop()
	e.persist()
	return nil
}

// Pause checkpoints and halts an executing run. In-flight task attempts are
// cancelled and their tasks reset to pending; they lose no retry budget.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Status != StatusExecuting {
		return fmt.Errorf("pausing run %s in %s: %w", e.run.ID, e.run.Status, ErrNotExecuting)
	}
	e.checkpointLocked(checkpoint.ReasonPrePause)
	e.run.Status = StatusPaused
	e.emit(eventlog.TypeRunPaused, "", nil)
	for _, cancel := range e.inflight {
		cancel()
	}
	e.persist()
	return nil
}

// Resume continues a paused run.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Status != StatusPaused {
		return fmt.Errorf("resuming run %s in %s: %w", e.run.ID, e.run.Status, ErrNotPaused)
	}
	e.run.Status = StatusExecuting
	e.emit(eventlog.TypeRunResumed, "", nil)
	e.startLoop()
	e.persist()
	return nil
}

// Cancel stops a run for good. Safe in any non-terminal state.
func (e *Engine) Cancel(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Status.Terminal() {
		return fmt.Errorf("run %s already %s", e.run.ID, e.run.Status)
	}
	e.checkpointLocked(checkpoint.ReasonPreCancel)
	e.run.Status = StatusCancelled
	e.run.Rationale = reason
	e.run.EndedAt = time.Now().UTC()
	e.emit(eventlog.TypeRunCancelled, "", map[string]any{"why": reason})
	for _, cancel := range e.inflight {
		cancel()
	}
	if e.loopCancel != nil {
		e.loopCancel()
	}
	e.persist()
	return nil
}

// Restart re-queues a terminal run's unfinished work into a fresh execution
// context under the same run id. Completed tasks stay done.
func (e *Engine) Restart() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.run.Status.Terminal() {
		return fmt.Errorf("restarting run %s in %s: %w", e.run.ID, e.run.Status, ErrNotTerminal)
	}
	for i := range e.tasks {
		t := &e.tasks[i]
		if t.State != graph.TaskDone {
			t.State = graph.TaskPending
			t.RetryCount = 0
			t.ErrorMessage = ""
			t.GateCleared = false
		}
	}
	e.run.EndedAt = time.Time{}
	e.emit(eventlog.TypeRunRestarted, "", nil)
	e.run.Status = StatusExecuting
	e.emit(eventlog.TypeRunStarted, "", nil)
	e.startLoop()
	e.persist()
	return nil
}

// ExtendBudget raises caps mid-run. A run blocked on budget resumes when
// the extension restores headroom.
func (e *Engine) ExtendBudget(ext budget.Extension, clearExceeded bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.budget = e.budget.Extend(ext, clearExceeded)
	e.emit(eventlog.TypeBudgetExtended, "", map[string]any{
		"iterations":     ext.Iterations,
		"tokens":         ext.Tokens,
		"wall_time_secs": ext.WallTimeSecs,
		"subagent_runs":  ext.SubAgentRuns,
		"clear_exceeded": clearExceeded,
	})
	if e.run.Status == StatusBlocked && e.budget.CanAdmit() {
		e.run.Status = StatusExecuting
		e.emit(eventlog.TypeRunResumed, "", map[string]any{"why": "budget extended"})
		e.startLoop()
	}
	e.persist()
	return nil
}

// RecordSpawn charges one sub-agent run against the budget.
func (e *Engine) RecordSpawn() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.budget = e.budget.Record(budget.Delta{SubAgentRuns: 1})
	e.emit(eventlog.TypeBudgetUpdated, "", map[string]any{
		"subagent_runs": e.budget.SubAgentRuns,
	})
}

// ClearGate records the review/test verdict for a gated task that finished
// executing. A failed verdict consumes a retry.
func (e *Engine) ClearGate(taskID string, passed bool, notes string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := -1
	for i := range e.tasks {
		if e.tasks[i].ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("clearing gate on %s: %w", taskID, ErrUnknownTask)
	}
	t := &e.tasks[idx]
	_, running := e.inflight[taskID]
	if t.Gate == graph.GateNone || t.State != graph.TaskInProgress || running {
		return fmt.Errorf("clearing gate on %s: %w", taskID, ErrGateNotPending)
	}

	e.emit(eventlog.TypeGateCleared, taskID, map[string]any{
		"gate":   string(t.Gate),
		"passed": passed,
		"why":    notes,
	})
	if passed {
		t.GateCleared = true
		t.State = graph.TaskDone
		ev := e.emit(eventlog.TypeTaskCompleted, taskID, nil)
		e.boardAppend(blackboard.OpAddDecision, blackboard.Item{
			ID:        uuid.NewString(),
			Text:      fmt.Sprintf("%s gate passed: %s", t.Gate, notes),
			TaskID:    taskID,
			SourceSeq: ev.Seq,
			CreatedAt: time.Now().UTC(),
		})
	} else {
		e.failAttempt(t, fmt.Sprintf("%s gate rejected: %s", t.Gate, notes))
	}
	e.persist()
	e.nudge()
	return nil
}

// checkpointLocked writes a snapshot at the current sequence number and
// records the marker event. Caller holds e.mu.
func (e *Engine) checkpointLocked(reason string) {
	if e.cps == nil {
		return
	}
	cp := checkpoint.Snapshot{
		ID:        uuid.NewString(),
		RunID:     e.run.ID,
		Seq:       e.log.Seq(),
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Status:    string(e.run.Status),
		Rationale: e.run.Rationale,
		Tasks:     append([]graph.Task(nil), e.tasks...),
		Budget:    e.budget,
	}
	if err := e.cps.Save(cp); err != nil {
		e.llog.Warn("checkpoint failed", map[string]interface{}{
			"run_id": e.run.ID,
			"reason": reason,
			"error":  err.Error(),
		})
		return
	}
	e.emit(eventlog.TypeCheckpointCreated, "", map[string]any{
		"seq":    cp.Seq,
		"reason": reason,
	})
}

// Snapshot returns a copy of current run state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Run:    e.run,
		Tasks:  append([]graph.Task(nil), e.tasks...),
		Budget: e.budget,
		Seq:    e.log.Seq(),
	}
}

// Summary returns the condensed listing view.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := graph.Summarize(e.tasks)
	return Summary{
		ID:           e.run.ID,
		Objective:    e.run.Objective,
		Status:       e.run.Status,
		TaskCount:    p.Total,
		DoneCount:    p.Done,
		UsagePercent: e.budget.UsagePercent(),
		CreatedAt:    e.run.CreatedAt,
	}
}

// LiveProjection derives the replay-comparable view of live state.
func (e *Engine) LiveProjection() checkpoint.Projection {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := checkpoint.Projection{
		Status:     string(e.run.Status),
		Rationale:  e.run.Rationale,
		TaskCount:  len(e.tasks),
		TaskStates: make(map[string]graph.TaskState, len(e.tasks)),
		LastSeq:    e.log.Seq(),
	}
	for _, t := range e.tasks {
		p.TaskStates[t.ID] = t.State
	}
	return p
}

// Audit replays the log from the nearest checkpoint at or below target and
// compares the projection against live state. Drift is recorded as an
// event and surfaced; the run continues on live state either way.
func (e *Engine) Audit(target uint64) (checkpoint.Drift, error) {
	var cp *checkpoint.Snapshot
	if e.cps != nil {
		var err error
		cp, err = e.cps.Nearest(e.run.ID, target)
		if err != nil {
			return checkpoint.Drift{}, fmt.Errorf("auditing run %s: %w", e.run.ID, err)
		}
	}
	replayed := checkpoint.Replay(cp, e.log.Events())
	live := e.LiveProjection()
	d := checkpoint.Compare(live, replayed)
	if d.Mismatch {
		e.mu.Lock()
		e.emit(eventlog.TypeReplayDrift, "", map[string]any{
			"status_mismatch":     d.StatusMismatch,
			"rationale_mismatch":  d.RationaleMismatch,
			"task_count_mismatch": d.TaskCountMismatch,
		})
		e.mu.Unlock()
	}
	return d, nil
}

// Wait blocks until the execution loop exits or ctx expires. Runs that
// never started a loop return immediately.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.loopDone
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// nudge wakes the loop without blocking.
func (e *Engine) nudge() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
