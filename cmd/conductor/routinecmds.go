package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vinayprograms/conductor/internal/budget"
	"github.com/vinayprograms/conductor/internal/routine"
)

// routineManager lazily builds and starts the manager so every routine
// command sees the same watched spec directory.
func routineManager(a *app) (*routine.Manager, error) {
	if a.routines != nil {
		return a.routines, nil
	}
	dir := a.cfg.Routines.Dir
	if dir == "" {
		dir = filepath.Join(a.cfg.StoragePath(), "routines")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating routine dir: %w", err)
	}
	def := budget.New(a.cfg.Budget.MaxIterations, a.cfg.Budget.MaxTokens,
		a.cfg.Budget.MaxWallTimeSecs, a.cfg.Budget.MaxSubAgentRuns)
	m, err := routine.NewManager(dir, a.svc, def)
	if err != nil {
		return nil, err
	}
	if err := m.Start(); err != nil {
		return nil, err
	}
	a.routines = m
	return m, nil
}

func (c *RoutineCreateCmd) Run(a *app) error {
	m, err := routineManager(a)
	if err != nil {
		return err
	}
	spec := routine.Spec{
		ID:        c.ID,
		Name:      c.Name,
		Objective: c.Objective,
		Interval:  c.Interval,
		Enabled:   c.Enabled,
	}
	if c.MaxTokens > 0 {
		spec.Budget = &routine.BudgetOverrides{MaxTokens: c.MaxTokens}
	}
	if err := m.Create(spec); err != nil {
		return err
	}
	fmt.Printf("routine %s created\n", c.ID)
	return nil
}

func (c *RoutinePatchCmd) Run(a *app) error {
	m, err := routineManager(a)
	if err != nil {
		return err
	}
	spec, err := m.Update(c.ID, routine.Patch{
		Name:      c.Name,
		Objective: c.Objective,
		Interval:  c.Interval,
		Enabled:   c.Enabled,
	})
	if err != nil {
		return err
	}
	fmt.Printf("routine %s updated (enabled=%t, interval=%s)\n", spec.ID, spec.Enabled, spec.Interval)
	return nil
}

func (c *RoutineListCmd) Run(a *app) error {
	m, err := routineManager(a)
	if err != nil {
		return err
	}
	specs := m.Specs()
	if len(specs) == 0 {
		fmt.Println("no routines")
		return nil
	}
	for _, s := range specs {
		state := "disabled"
		if s.Enabled {
			state = "enabled"
		}
		fmt.Printf("%-20s  %-8s  every %-8s  %s\n", s.ID, state, s.Interval, s.Objective)
	}
	return nil
}

func (c *RoutineRunsCmd) Run(a *app) error {
	m, err := routineManager(a)
	if err != nil {
		return err
	}
	for _, r := range m.Runs(c.ID) {
		line := fmt.Sprintf("%s  %s  run=%s", r.FiredAt.Format("2006-01-02 15:04:05"), r.RoutineID, r.RunID)
		if r.Error != "" {
			line += "  error=" + r.Error
		}
		fmt.Println(line)
	}
	return nil
}

// Run keeps the routine scheduler in the foreground until interrupted.
func (c *ServeCmd) Run(a *app) error {
	m, err := routineManager(a)
	if err != nil {
		return err
	}
	defer m.Stop()

	fmt.Println("routine scheduler running, ctrl-c to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Println("stopping")
	return nil
}
