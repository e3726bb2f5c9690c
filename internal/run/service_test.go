package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vinayprograms/conductor/internal/config"
	"github.com/vinayprograms/conductor/internal/mission"
)

func newService(t *testing.T, planJSON string) (*Service, *recordingExecutor) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	exec := &recordingExecutor{}
	svc, err := NewService(cfg, planProvider(planJSON), exec)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, exec
}

func TestService_RunLifecycle(t *testing.T) {
	svc, exec := newService(t, chainPlan)

	eng, err := svc.CreateRun("ship the feature", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := eng.Approve("go"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	waitIdle(t, eng)

	if st := eng.Snapshot().Run.Status; st != StatusCompleted {
		t.Fatalf("expected completed, got %s", st)
	}
	if len(exec.order()) != 3 {
		t.Errorf("expected 3 executions, got %v", exec.order())
	}

	sums := svc.List()
	if len(sums) != 1 || sums[0].Status != StatusCompleted || sums[0].DoneCount != 3 {
		t.Errorf("summary mismatch: %+v", sums)
	}

	// Persisted events survive and stay gapless.
	events, err := svc.Events(eng.ID(), 0, 0)
	if err != nil || len(events) == 0 {
		t.Fatalf("events not persisted: %v (%d)", err, len(events))
	}
}

func TestService_UnknownRun(t *testing.T) {
	svc, _ := newService(t, chainPlan)
	_, err := svc.Engine("nope")
	if !errors.Is(err, ErrUnknownRun) {
		t.Errorf("expected ErrUnknownRun, got %v", err)
	}
}

func TestService_ReviveFromDisk(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	exec := &recordingExecutor{}

	svc, err := NewService(cfg, planProvider(chainPlan), exec)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	eng, err := svc.CreateRun("persisted objective", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	runID := eng.ID()
	svc.Close()

	// A fresh service over the same storage sees the run.
	svc2, err := NewService(cfg, planProvider(chainPlan), exec)
	if err != nil {
		t.Fatalf("second service: %v", err)
	}
	defer svc2.Close()
	revived, err := svc2.Engine(runID)
	if err != nil {
		t.Fatalf("revive: %v", err)
	}
	snap := revived.Snapshot()
	if snap.Run.Objective != "persisted objective" {
		t.Errorf("objective lost across restart: %q", snap.Run.Objective)
	}
	if snap.Run.Status != StatusAwaitingApproval {
		t.Errorf("status lost across restart: %s", snap.Run.Status)
	}
	if len(snap.Tasks) != 3 {
		t.Errorf("tasks lost across restart: %d", len(snap.Tasks))
	}
	// The revived log continues the persisted sequence without gaps.
	if snap.Seq == 0 {
		t.Error("revived log should continue from the persisted tail")
	}
}

func TestService_SpawnChargesRunBudget(t *testing.T) {
	svc, _ := newService(t, chainPlan)
	eng, err := svc.CreateRun("spawn things", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	go func() {
		for {
			pending := svc.Gate().Pending()
			if len(pending) > 0 {
				svc.Gate().Resolve(pending[0].ID, true, "approved")
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inst, err := svc.Spawn(ctx, eng.ID(), mission.SpawnArgs{
		Role: "researcher", Goal: "dig", Justification: "needs web access",
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if inst == nil || inst.MissionID == "" {
		t.Fatalf("instance not created: %+v", inst)
	}
	if got := eng.Snapshot().Budget.SubAgentRuns; got != 1 {
		t.Errorf("spawn should charge one sub-agent run, got %d", got)
	}
}
