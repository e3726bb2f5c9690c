package checkpoint

import (
	"testing"
	"time"

	"github.com/vinayprograms/conductor/internal/budget"
	"github.com/vinayprograms/conductor/internal/eventlog"
	"github.com/vinayprograms/conductor/internal/graph"
)

func snapshotAt(seq uint64, status string, tasks []graph.Task) Snapshot {
	return Snapshot{
		ID:        "cp-test",
		RunID:     "run-1",
		Seq:       seq,
		Timestamp: time.Now(),
		Reason:    ReasonHeartbeat,
		Status:    status,
		Tasks:     tasks,
		Budget:    budget.New(100, 10000, 3600, 50),
	}
}

func TestStore_SaveAndNearest(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	for _, seq := range []uint64{5, 10, 20} {
		if err := store.Save(snapshotAt(seq, "executing", nil)); err != nil {
			t.Fatalf("save seq %d: %v", seq, err)
		}
	}

	cp, err := store.Nearest("run-1", 15)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if cp == nil || cp.Seq != 10 {
		t.Errorf("nearest <= 15 should be seq 10, got %+v", cp)
	}

	cp, err = store.Nearest("run-1", 4)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if cp != nil {
		t.Errorf("no checkpoint at or below 4, got %+v", cp)
	}

	cp, err = store.Latest("run-1")
	if err != nil || cp == nil || cp.Seq != 20 {
		t.Errorf("latest should be seq 20, got %+v (%v)", cp, err)
	}
}

func TestStore_MissingRun(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	cp, err := store.Nearest("absent", 100)
	if err != nil || cp != nil {
		t.Errorf("missing run should yield nil, got %+v (%v)", cp, err)
	}
}

func eventAt(seq uint64, evType, taskID string, payload map[string]any) eventlog.Event {
	return eventlog.Event{
		ID: "ev", RunID: "run-1", Seq: seq,
		Timestamp: time.Now(), Type: evType, TaskID: taskID, Payload: payload,
	}
}

func TestReplay_RoundTripMatchesLive(t *testing.T) {
	tasks := []graph.Task{
		graph.NewTask("a", "A", ""),
		graph.NewTask("b", "B", ""),
	}
	tasks[0].State = graph.TaskInProgress
	cp := snapshotAt(10, "executing", tasks)

	events := []eventlog.Event{
		eventAt(11, eventlog.TypeTaskCompleted, "a", nil),
		eventAt(12, eventlog.TypeTaskRunnable, "b", nil),
		eventAt(13, eventlog.TypeTaskStarted, "b", nil),
		eventAt(14, eventlog.TypeTaskCompleted, "b", nil),
		eventAt(15, eventlog.TypeRunCompleted, "", nil),
	}

	replayed := Replay(&cp, events)

	live := Projection{
		Status:    "completed",
		TaskCount: 2,
		TaskStates: map[string]graph.TaskState{
			"a": graph.TaskDone,
			"b": graph.TaskDone,
		},
	}

	d := Compare(live, replayed)
	if d.Mismatch {
		t.Errorf("expected no drift, got %+v", d)
	}
	if replayed.TaskStates["a"] != graph.TaskDone || replayed.TaskStates["b"] != graph.TaskDone {
		t.Errorf("task states not replayed: %+v", replayed.TaskStates)
	}
	if replayed.LastSeq != 15 {
		t.Errorf("expected last seq 15, got %d", replayed.LastSeq)
	}
}

func TestReplay_SkipsEventsAtOrBeforeSnapshot(t *testing.T) {
	cp := snapshotAt(10, "executing", nil)
	events := []eventlog.Event{
		eventAt(9, eventlog.TypeRunPaused, "", nil),
		eventAt(10, eventlog.TypeRunCancelled, "", nil),
		eventAt(11, eventlog.TypeRunCompleted, "", nil),
	}
	p := Replay(&cp, events)
	if p.Status != "completed" {
		t.Errorf("events <= snapshot seq must be skipped, got status %s", p.Status)
	}
}

func TestReplay_IsDeterministic(t *testing.T) {
	cp := snapshotAt(2, "planning", nil)
	events := []eventlog.Event{
		eventAt(3, eventlog.TypePlanGenerated, "", map[string]any{"task_count": 4}),
		eventAt(4, eventlog.TypePlanApproved, "", map[string]any{"why": "plan accepted"}),
	}
	a := Replay(&cp, events)
	b := Replay(&cp, events)
	if a.Status != b.Status || a.Rationale != b.Rationale || a.TaskCount != b.TaskCount {
		t.Errorf("replay not deterministic: %+v vs %+v", a, b)
	}
	if a.TaskCount != 4 {
		t.Errorf("task_count payload not applied: %d", a.TaskCount)
	}
	if a.Rationale != "plan accepted" {
		t.Errorf("rationale not applied: %q", a.Rationale)
	}
}

func TestReplay_TaskCountFromJSONNumbers(t *testing.T) {
	cp := snapshotAt(0, "planning", nil)
	// JSON decoding turns numbers into float64.
	events := []eventlog.Event{
		eventAt(1, eventlog.TypePlanGenerated, "", map[string]any{"task_count": float64(7)}),
	}
	p := Replay(&cp, events)
	if p.TaskCount != 7 {
		t.Errorf("expected 7, got %d", p.TaskCount)
	}
}

func TestCompare_DetectsInjectedDivergence(t *testing.T) {
	cp := snapshotAt(10, "executing", []graph.Task{graph.NewTask("a", "A", "")})
	events := []eventlog.Event{
		eventAt(11, eventlog.TypeTaskCompleted, "a", nil),
		eventAt(12, eventlog.TypeRunCompleted, "", nil),
	}
	replayed := Replay(&cp, events)

	// Live state intentionally diverges on status.
	live := Projection{Status: "failed", TaskCount: 1}
	d := Compare(live, replayed)
	if !d.Mismatch || !d.StatusMismatch {
		t.Errorf("expected status drift, got %+v", d)
	}
	if d.TaskCountMismatch {
		t.Error("task count should match")
	}
}

func TestDrift_FormatMentionsEveryDriftingFlag(t *testing.T) {
	d := Drift{
		StatusMismatch: true, Mismatch: true,
		LiveStatus: "executing", ReplayedStatus: "paused",
	}
	out := d.Format(80)
	if out == "" {
		t.Fatal("format should render a report")
	}
}
