package run

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/conductor/internal/blackboard"
	"github.com/vinayprograms/conductor/internal/budget"
	"github.com/vinayprograms/conductor/internal/checkpoint"
	"github.com/vinayprograms/conductor/internal/eventlog"
	"github.com/vinayprograms/conductor/internal/graph"
)

// taskOutcome is one finished task attempt.
type taskOutcome struct {
	taskID string
	result TaskResult
	err    error
}

// startLoop launches the execution loop if one is not already running.
// Caller holds e.mu. A loop left draining by a pause keeps running and
// simply resumes admitting when it observes the executing status again.
func (e *Engine) startLoop() {
	if e.loopDone != nil {
		select {
		case <-e.loopDone:
		default:
			e.nudge()
			return
		}
	}
	if e.results == nil {
		e.results = make(chan taskOutcome, 128)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.loopCancel = cancel
	done := make(chan struct{})
	e.loopDone = done
	e.lastWall = time.Now()
	go e.loop(ctx, done)
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := time.Duration(e.cfg.CheckpointEverySecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()
	// Retry admission periodically: the admitter may be shared across runs,
	// so a free slot is not always signalled by this run's own outcomes.
	retry := time.NewTicker(200 * time.Millisecond)
	defer retry.Stop()

	for {
		if exit := e.step(ctx); exit {
			return
		}
		select {
		case out := <-e.results:
			e.handleOutcome(out)
		case <-heartbeat.C:
			e.heartbeat()
		case <-retry.C:
		case <-e.wake:
		case <-ctx.Done():
			e.drain()
			return
		}
	}
}

// step advances scheduling once and reports whether the loop should exit.
func (e *Engine) step(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run.Status != StatusExecuting {
		// Outcomes of cancelled attempts still need collecting.
		return len(e.inflight) == 0
	}

	e.accrueWallLocked()

	before := make(map[string]graph.TaskState, len(e.tasks))
	for _, t := range e.tasks {
		before[t.ID] = t.State
	}
	graph.Refresh(e.tasks)
	for _, t := range e.tasks {
		if t.State == before[t.ID] {
			continue
		}
		switch t.State {
		case graph.TaskRunnable:
			e.emit(eventlog.TypeTaskRunnable, t.ID, nil)
		case graph.TaskBlocked:
			e.emit(eventlog.TypeTaskBlocked, t.ID, map[string]any{"error": t.ErrorMessage})
		}
	}

	if graph.AllSettled(e.tasks) {
		e.finalizeLocked()
		return true
	}

	if !e.budget.CanAdmit() {
		if len(e.inflight) > 0 || e.hasGateAwaitingLocked() {
			// Admitted work finishes; gates may still clear.
			return false
		}
		reason := e.budget.ExceededReason
		if reason == "" {
			reason = "budget cap reached"
		}
		e.emit(eventlog.TypeBudgetExceeded, "", map[string]any{"why": reason})
		e.run.Status = StatusBlocked
		e.run.Rationale = reason
		e.emit(eventlog.TypeRunBlocked, "", map[string]any{"why": reason})
		e.persist()
		return true
	}

	for i := range e.tasks {
		t := &e.tasks[i]
		if t.State != graph.TaskRunnable {
			continue
		}
		if !e.budget.CanAdmit() {
			break
		}
		if !e.admit.TryAdmit(t.Class) {
			// Class slot busy; a different class may still fit.
			continue
		}
		t.State = graph.TaskInProgress
		e.budget = e.budget.Record(budget.Delta{Iterations: 1})
		e.emit(eventlog.TypeTaskStarted, t.ID, map[string]any{"attempt": t.RetryCount + 1})
		tctx, cancel := context.WithCancel(ctx)
		e.inflight[t.ID] = cancel
		go e.worker(tctx, *t)
	}
	return false
}

// worker runs one task attempt under the per-attempt timeout and reports
// the outcome. The admission permits are released here, not in the loop,
// so a slot frees the moment execution ends.
func (e *Engine) worker(ctx context.Context, t graph.Task) {
	if e.cfg.TaskTimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.TaskTimeoutSecs)*time.Second)
		defer cancel()
	}
	ctx, span := startTaskSpan(ctx, e.run.ID, t)
	res, err := e.exec.Execute(ctx, t)
	endTaskSpan(span, err)
	e.admit.Release(t.Class)
	e.results <- taskOutcome{taskID: t.ID, result: res, err: err}
}

// handleOutcome folds one finished attempt back into the graph.
func (e *Engine) handleOutcome(out taskOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cancel, ok := e.inflight[out.taskID]; ok {
		cancel()
		delete(e.inflight, out.taskID)
	}
	var t *graph.Task
	for i := range e.tasks {
		if e.tasks[i].ID == out.taskID {
			t = &e.tasks[i]
			break
		}
	}
	if t == nil {
		return
	}

	if e.run.Status != StatusExecuting {
		// Attempt was cut short by pause or cancel: back to pending with no
		// retry charge.
		if t.State == graph.TaskInProgress {
			t.State = graph.TaskPending
		}
		e.persist()
		return
	}

	if out.err != nil {
		e.failAttempt(t, out.err.Error())
		e.persist()
		return
	}

	t.SessionID = out.result.SessionID
	t.ErrorMessage = ""
	if out.result.Tokens > 0 {
		e.budget = e.budget.Record(budget.Delta{Tokens: out.result.Tokens})
		e.emit(eventlog.TypeBudgetUpdated, t.ID, map[string]any{
			"tokens_used": e.budget.TokensUsed,
		})
	}
	if t.Gate != graph.GateNone && !t.GateCleared {
		// Execution finished but the task is not done until its gate
		// verdict is recorded.
		e.emit(eventlog.TypeTaskTrace, t.ID, map[string]any{
			"note": "awaiting " + string(t.Gate) + " gate",
		})
	} else {
		t.State = graph.TaskDone
		ev := e.emit(eventlog.TypeTaskCompleted, t.ID, nil)
		if out.result.Output != "" {
			e.boardAppend(blackboard.OpAddFact, blackboard.Item{
				ID:        uuid.NewString(),
				Text:      out.result.Output,
				TaskID:    t.ID,
				SourceSeq: ev.Seq,
				CreatedAt: time.Now().UTC(),
			})
		}
	}
	e.persist()
}

// failAttempt charges a retry and either re-queues the task or fails it for
// good. Caller holds e.mu.
func (e *Engine) failAttempt(t *graph.Task, msg string) {
	t.RetryCount++
	t.ErrorMessage = msg
	if t.RetryCount <= uint32(e.cfg.MaxTaskRetries) {
		t.State = graph.TaskRunnable
		e.emit(eventlog.TypeTaskRetried, t.ID, map[string]any{
			"attempt": t.RetryCount,
			"error":   msg,
		})
		return
	}
	t.State = graph.TaskFailed
	e.emit(eventlog.TypeTaskFailed, t.ID, map[string]any{"error": msg})
}

// drain collects outcomes of cancelled attempts until none are in flight.
func (e *Engine) drain() {
	for {
		e.mu.Lock()
		n := len(e.inflight)
		e.mu.Unlock()
		if n == 0 {
			return
		}
		e.handleOutcome(<-e.results)
	}
}

// heartbeat accrues wall time and writes a periodic checkpoint.
func (e *Engine) heartbeat() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Status != StatusExecuting {
		return
	}
	e.accrueWallLocked()
	e.checkpointLocked(checkpoint.ReasonHeartbeat)
}

// accrueWallLocked charges elapsed wall time against the budget in whole
// seconds, carrying the remainder. Caller holds e.mu.
func (e *Engine) accrueWallLocked() {
	secs := uint64(time.Since(e.lastWall) / time.Second)
	if secs == 0 {
		return
	}
	e.budget = e.budget.Record(budget.Delta{WallTimeSecs: secs})
	e.lastWall = e.lastWall.Add(time.Duration(secs) * time.Second)
}

// hasGateAwaitingLocked reports whether any task finished executing but
// still waits on its gate verdict. Caller holds e.mu.
func (e *Engine) hasGateAwaitingLocked() bool {
	for _, t := range e.tasks {
		if t.Gate == graph.GateNone || t.State != graph.TaskInProgress {
			continue
		}
		if _, running := e.inflight[t.ID]; !running {
			return true
		}
	}
	return false
}

// finalizeLocked settles a fully-settled run. Caller holds e.mu.
func (e *Engine) finalizeLocked() {
	e.run.EndedAt = time.Now().UTC()
	if graph.AnyFailed(e.tasks) {
		why := "one or more tasks failed permanently"
		for _, t := range e.tasks {
			if t.State == graph.TaskFailed {
				why = "task " + t.ID + " failed: " + t.ErrorMessage
				break
			}
		}
		e.run.Status = StatusFailed
		e.run.Rationale = why
		e.emit(eventlog.TypeRunFailed, "", map[string]any{"why": why})
	} else {
		e.run.Status = StatusCompleted
		e.emit(eventlog.TypeRunCompleted, "", nil)
	}
	e.persist()
}
