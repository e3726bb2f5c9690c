package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vinayprograms/conductor/internal/approval"
	"github.com/vinayprograms/conductor/internal/graph"
)

func awaitToolRequest(t *testing.T, gate *approval.Gate) approval.Approval {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if pending := gate.Pending(); len(pending) == 1 {
			return pending[0]
		}
		if time.Now().After(deadline) {
			t.Fatal("no tool approval requested")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGatedExecutor_HoldsForToolApproval(t *testing.T) {
	gate := approval.NewGate()
	inner := &recordingExecutor{}
	x := NewGatedExecutor(inner, gate, []graph.ResourceClass{graph.ClassShell})

	task := graph.NewTask("t1", "wipe scratch dir", "")
	task.Class = graph.ClassShell

	done := make(chan error, 1)
	go func() {
		_, err := x.Execute(context.Background(), task)
		done <- err
	}()

	req := awaitToolRequest(t, gate)
	if req.Kind != approval.KindTool || req.Tool == nil {
		t.Fatalf("expected a tool approval, got %+v", req)
	}
	if req.Tool.Tool != "shell" || req.Tool.SessionID != "t1" || req.Tool.CallID == "" {
		t.Fatalf("bad tool request: %+v", req.Tool)
	}
	if got := inner.order(); len(got) != 0 {
		t.Fatalf("execution must wait for the verdict, got %v", got)
	}

	if _, err := gate.ResolveCall(req.Tool.SessionID, req.Tool.CallID, true, "scoped to scratch"); err != nil {
		t.Fatalf("resolve by call: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("approved attempt should execute: %v", err)
	}
	if got := inner.order(); len(got) != 1 || got[0] != "t1" {
		t.Errorf("inner executor not reached: %v", got)
	}
}

func TestGatedExecutor_DenialFailsAttempt(t *testing.T) {
	gate := approval.NewGate()
	inner := &recordingExecutor{}
	x := NewGatedExecutor(inner, gate, []graph.ResourceClass{graph.ClassShell})

	task := graph.NewTask("t2", "push to prod", "")
	task.Class = graph.ClassShell

	done := make(chan error, 1)
	go func() {
		_, err := x.Execute(context.Background(), task)
		done <- err
	}()

	req := awaitToolRequest(t, gate)
	if _, err := gate.Resolve(req.ID, false, "not during the freeze"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := <-done; !errors.Is(err, approval.ErrDenied) {
		t.Errorf("denied attempt should fail with ErrDenied, got %v", err)
	}
	if got := inner.order(); len(got) != 0 {
		t.Errorf("denied attempt must never execute, got %v", got)
	}
}

func TestGatedExecutor_UngatedClassPassesThrough(t *testing.T) {
	gate := approval.NewGate()
	inner := &recordingExecutor{}
	x := NewGatedExecutor(inner, gate, []graph.ResourceClass{graph.ClassShell})

	// Default class is llm, which is not in the gated set.
	task := graph.NewTask("t3", "summarize findings", "")
	if _, err := x.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n := len(gate.Pending()); n != 0 {
		t.Errorf("ungated class raised %d approvals", n)
	}
	if got := inner.order(); len(got) != 1 {
		t.Errorf("inner executor not reached: %v", got)
	}
}
