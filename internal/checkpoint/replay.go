package checkpoint

import (
	"github.com/vinayprograms/conductor/internal/eventlog"
	"github.com/vinayprograms/conductor/internal/graph"
)

// Projection is the replay-relevant view of a run. Replay is a pure fold:
// no task re-executes, no store is touched.
type Projection struct {
	Status     string
	Rationale  string
	TaskCount  int
	TaskStates map[string]graph.TaskState
	LastSeq    uint64
}

// FromSnapshot seeds a projection from a checkpoint.
func FromSnapshot(cp *Snapshot) Projection {
	p := Projection{
		TaskStates: make(map[string]graph.TaskState),
	}
	if cp == nil {
		p.Status = "queued"
		return p
	}
	p.Status = cp.Status
	p.Rationale = cp.Rationale
	p.TaskCount = len(cp.Tasks)
	p.LastSeq = cp.Seq
	for _, t := range cp.Tasks {
		p.TaskStates[t.ID] = t.State
	}
	return p
}

// Replay folds events with Seq > the snapshot's into the projection. Events
// at or before the snapshot are skipped, so callers can pass a full log.
func Replay(cp *Snapshot, events []eventlog.Event) Projection {
	p := FromSnapshot(cp)
	for _, ev := range events {
		if ev.Seq <= p.LastSeq {
			continue
		}
		applyEvent(&p, ev)
		p.LastSeq = ev.Seq
	}
	return p
}

func applyEvent(p *Projection, ev eventlog.Event) {
	if why, ok := ev.Payload["why"].(string); ok && why != "" {
		p.Rationale = why
	}

	switch ev.Type {
	case eventlog.TypeRunCreated:
		p.Status = "queued"
	case eventlog.TypePlanningStarted, eventlog.TypeRevisionRequested:
		p.Status = "planning"
	case eventlog.TypePlanGenerated:
		p.Status = "awaiting_approval"
		if n, ok := payloadInt(ev.Payload, "task_count"); ok {
			p.TaskCount = n
		}
	case eventlog.TypePlanApproved, eventlog.TypeRunStarted, eventlog.TypeRunResumed:
		p.Status = "executing"
	case eventlog.TypeRunPaused:
		p.Status = "paused"
	case eventlog.TypeRunBlocked:
		p.Status = "blocked"
	case eventlog.TypeRunCompleted:
		p.Status = "completed"
	case eventlog.TypeRunFailed:
		p.Status = "failed"
	case eventlog.TypeRunCancelled:
		p.Status = "cancelled"
	case eventlog.TypeRunRestarted:
		p.Status = "queued"

	case eventlog.TypeTaskRunnable:
		p.TaskStates[ev.TaskID] = graph.TaskRunnable
	case eventlog.TypeTaskStarted:
		p.TaskStates[ev.TaskID] = graph.TaskInProgress
	case eventlog.TypeTaskCompleted:
		p.TaskStates[ev.TaskID] = graph.TaskDone
	case eventlog.TypeTaskFailed:
		p.TaskStates[ev.TaskID] = graph.TaskFailed
	case eventlog.TypeTaskRetried:
		p.TaskStates[ev.TaskID] = graph.TaskRunnable
	case eventlog.TypeTaskBlocked:
		p.TaskStates[ev.TaskID] = graph.TaskBlocked
	}
}

// payloadInt reads an integer payload field, accepting both in-memory int
// values and float64 from JSON decoding.
func payloadInt(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
