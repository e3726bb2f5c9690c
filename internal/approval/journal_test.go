package approval

import (
	"errors"
	"testing"
)

func TestJournal_LookupAfterResolve(t *testing.T) {
	j, err := NewJournal(t.TempDir())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	gate := NewGate()
	gate.SetJournal(j)

	a := gate.RequestSpawn(SpawnRequest{Role: "builder", Justification: "split work"})
	if _, err := gate.Resolve(a.ID, true, "scoped"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got, res, err := j.Lookup(a.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Kind != KindSpawn || got.Spawn == nil || got.Spawn.Role != "builder" {
		t.Errorf("request not journalled: %+v", got)
	}
	if res == nil || !res.Approved || res.Reason != "scoped" {
		t.Errorf("resolution not journalled: %+v", res)
	}
}

func TestJournal_PendingHasNoResolution(t *testing.T) {
	j, err := NewJournal(t.TempDir())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	gate := NewGate()
	gate.SetJournal(j)

	a := gate.RequestTool(ToolRequest{SessionID: "s1", Tool: "shell", CallID: "c1"})

	got, res, err := j.Lookup(a.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Tool == nil || got.Tool.CallID != "c1" {
		t.Errorf("tool request not journalled: %+v", got)
	}
	if res != nil {
		t.Errorf("unresolved approval should have no resolution: %+v", res)
	}
}

func TestJournal_UnknownID(t *testing.T) {
	j, err := NewJournal(t.TempDir())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	if _, _, err := j.Lookup("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
