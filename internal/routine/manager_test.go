package routine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/conductor/internal/budget"
)

// fakeLauncher records launches.
type fakeLauncher struct {
	mu       sync.Mutex
	launches []string
	budgets  []budget.Budget
	next     int
}

func (f *fakeLauncher) LaunchRoutineRun(ctx context.Context, routineID, objective string, b *budget.Budget) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.launches = append(f.launches, routineID)
	if b != nil {
		f.budgets = append(f.budgets, *b)
	}
	return fmt.Sprintf("run-%d", f.next), nil
}

func (f *fakeLauncher) count(routineID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.launches {
		if id == routineID {
			n++
		}
	}
	return n
}

func defaultBudget() budget.Budget {
	return budget.New(50, 100000, 3600, 5)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManager_EnabledRoutineFires(t *testing.T) {
	launcher := &fakeLauncher{}
	m, err := NewManager(t.TempDir(), launcher, defaultBudget())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	err = m.Create(Spec{
		ID: "nightly", Name: "Nightly check", Objective: "verify the build",
		Interval: "20ms", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	waitFor(t, "two firings", func() bool { return launcher.count("nightly") >= 2 })

	runs := m.Runs("nightly")
	if len(runs) < 2 || runs[0].RunID == "" {
		t.Errorf("routine runs not recorded: %+v", runs)
	}
}

func TestManager_DisabledRoutineStaysQuiet(t *testing.T) {
	launcher := &fakeLauncher{}
	m, err := NewManager(t.TempDir(), launcher, defaultBudget())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if err := m.Create(Spec{ID: "idle", Objective: "never", Interval: "10ms", Enabled: false}); err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if n := launcher.count("idle"); n != 0 {
		t.Errorf("disabled routine fired %d times", n)
	}
}

func TestManager_PatchDisablesRoutine(t *testing.T) {
	launcher := &fakeLauncher{}
	m, err := NewManager(t.TempDir(), launcher, defaultBudget())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if err := m.Create(Spec{ID: "hourly", Objective: "sweep", Interval: "20ms", Enabled: true}); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, "first firing", func() bool { return launcher.count("hourly") >= 1 })

	off := false
	if _, err := m.Update("hourly", Patch{Enabled: &off}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	n := launcher.count("hourly")
	time.Sleep(80 * time.Millisecond)
	if launcher.count("hourly") > n+1 {
		t.Error("patched-off routine kept firing")
	}

	spec, ok := m.Get("hourly")
	if !ok || spec.Enabled {
		t.Errorf("patch not applied: %+v", spec)
	}
}

func TestManager_BudgetOverridesApplied(t *testing.T) {
	launcher := &fakeLauncher{}
	m, err := NewManager(t.TempDir(), launcher, defaultBudget())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	err = m.Create(Spec{
		ID: "cheap", Objective: "small sweep", Interval: "20ms", Enabled: true,
		Budget: &BudgetOverrides{MaxTokens: 500},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, "one firing", func() bool { return launcher.count("cheap") >= 1 })

	launcher.mu.Lock()
	b := launcher.budgets[0]
	launcher.mu.Unlock()
	if b.MaxTokens != 500 {
		t.Errorf("token override not applied: %d", b.MaxTokens)
	}
	if b.MaxIterations != 50 {
		t.Errorf("unset dimensions should keep defaults: %d", b.MaxIterations)
	}
}

func TestManager_ReloadsEditedSpecFile(t *testing.T) {
	dir := t.TempDir()
	launcher := &fakeLauncher{}
	m, err := NewManager(dir, launcher, defaultBudget())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	// An external process drops a spec file into the watched directory.
	spec := "id: dropped\nname: Dropped in\nobjective: scan inbox\ninterval: 20ms\nenabled: true\n"
	if err := os.WriteFile(filepath.Join(dir, "dropped.yaml"), []byte(spec), 0644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	waitFor(t, "watched spec to fire", func() bool { return launcher.count("dropped") >= 1 })
	if _, ok := m.Get("dropped"); !ok {
		t.Error("watched spec not registered")
	}
}

func TestManager_LoadsExistingSpecsOnStart(t *testing.T) {
	dir := t.TempDir()
	spec := "id: preexisting\nobjective: daily digest\ninterval: 25ms\nenabled: true\n"
	if err := os.WriteFile(filepath.Join(dir, "preexisting.yaml"), []byte(spec), 0644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	launcher := &fakeLauncher{}
	m, err := NewManager(dir, launcher, defaultBudget())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	waitFor(t, "preexisting spec to fire", func() bool { return launcher.count("preexisting") >= 1 })
}

func TestSpec_Validate(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		ok   bool
	}{
		{"valid", Spec{ID: "r1", Objective: "x", Interval: "1h"}, true},
		{"missing id", Spec{Objective: "x", Interval: "1h"}, false},
		{"missing objective", Spec{ID: "r1", Interval: "1h"}, false},
		{"bad interval", Spec{ID: "r1", Objective: "x", Interval: "soon"}, false},
		{"zero interval", Spec{ID: "r1", Objective: "x", Interval: "0s"}, false},
	}
	for _, tc := range cases {
		err := tc.spec.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestManager_RunRecordsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	launcher := &fakeLauncher{}
	m, err := NewManager(dir, launcher, defaultBudget())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Create(Spec{ID: "sweep", Objective: "scan", Interval: "20ms", Enabled: true}); err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, "one firing", func() bool { return launcher.count("sweep") >= 1 })
	m.Stop()
	before := len(m.Runs("sweep"))

	m2, err := NewManager(dir, launcher, defaultBudget())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m2.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer m2.Stop()

	runs := m2.Runs("sweep")
	if len(runs) < before {
		t.Fatalf("run records lost across restart: %d < %d", len(runs), before)
	}
	if runs[0].RunID == "" || runs[0].FiredAt.IsZero() {
		t.Errorf("persisted record incomplete: %+v", runs[0])
	}
}
