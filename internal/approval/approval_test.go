package approval

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGate_RequestAndApprove(t *testing.T) {
	g := NewGate()
	a := g.RequestSpawn(SpawnRequest{Role: "researcher", Justification: "need web digging"})
	if a.ID == "" || a.Kind != KindSpawn {
		t.Fatalf("bad approval record: %+v", a)
	}

	done := make(chan error, 1)
	go func() {
		_, err := g.Await(context.Background(), a.ID)
		done <- err
	}()

	if _, err := g.Resolve(a.ID, true, "looks safe"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("approved await should succeed, got %v", err)
	}
}

func TestGate_DenialIsTerminal(t *testing.T) {
	g := NewGate()
	a := g.RequestTool(ToolRequest{SessionID: "s1", Tool: "shell", CallID: "c1"})

	if _, err := g.Resolve(a.ID, false, "shell not allowed here"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	res, err := g.Await(context.Background(), a.ID)
	if !errors.Is(err, ErrDenied) {
		t.Errorf("expected ErrDenied, got %v", err)
	}
	if res.Approved {
		t.Error("resolution should carry the denial")
	}

	// A settled id cannot be resolved again.
	if _, err := g.Resolve(a.ID, true, "changed my mind"); !errors.Is(err, ErrNotFound) {
		t.Errorf("re-resolve should fail with ErrNotFound, got %v", err)
	}
}

func TestGate_ResolveUnknown(t *testing.T) {
	g := NewGate()
	if _, err := g.Resolve("ghost", true, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGate_AwaitRespectsContext(t *testing.T) {
	g := NewGate()
	a := g.RequestSpawn(SpawnRequest{Role: "builder", Justification: "x"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := g.Await(ctx, a.ID)
	if err == nil {
		t.Fatal("await should fail when nobody resolves in time")
	}

	// The approval stays pending; only the waiter gave up.
	if _, ok := g.Get(a.ID); !ok {
		t.Error("unresolved approval must stay in the pending set")
	}
}

func TestGate_PendingOrderedOldestFirst(t *testing.T) {
	g := NewGate()
	first := g.RequestSpawn(SpawnRequest{Role: "a", Justification: "1"})
	time.Sleep(2 * time.Millisecond)
	second := g.RequestTool(ToolRequest{SessionID: "s", Tool: "web", CallID: "c"})

	pending := g.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Errorf("pending not ordered oldest first: %v then %v", pending[0].ID, pending[1].ID)
	}

	g.Resolve(first.ID, true, "")
	if len(g.Pending()) != 1 {
		t.Error("resolved approval should leave the pending set")
	}
}

func TestGate_ResolveByCall(t *testing.T) {
	g := NewGate()
	a := g.RequestTool(ToolRequest{SessionID: "sess-9", Tool: "shell", CallID: "call-3"})

	if _, err := g.ResolveCall("sess-9", "wrong-call", true, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("mismatched call id should not resolve, got %v", err)
	}
	if _, err := g.ResolveCall("sess-9", "call-3", true, "rm in scratch dir only"); err != nil {
		t.Fatalf("resolve by call: %v", err)
	}
	res, err := g.Await(context.Background(), a.ID)
	if err != nil || !res.Approved {
		t.Errorf("call-addressed resolution should reach the waiter, got %+v (%v)", res, err)
	}
	// Spawn approvals are never addressable by session/call.
	sp := g.RequestSpawn(SpawnRequest{Role: "builder", Justification: "x"})
	if _, err := g.ResolveCall(sp.ID, "", true, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("spawn approval matched a call lookup: %v", err)
	}
}

func TestGate_ResolveBeforeAwaitStillDelivers(t *testing.T) {
	g := NewGate()
	a := g.RequestSpawn(SpawnRequest{Role: "validator", Justification: "gate test output"})
	if _, err := g.Resolve(a.ID, true, "ok"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	res, err := g.Await(context.Background(), a.ID)
	if err != nil || !res.Approved {
		t.Errorf("buffered resolution should reach a late waiter, got %+v (%v)", res, err)
	}
}
