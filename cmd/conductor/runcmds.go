package main

import (
	"context"
	"fmt"

	"github.com/vinayprograms/conductor/internal/budget"
	"github.com/vinayprograms/conductor/internal/graph"
	"github.com/vinayprograms/conductor/internal/run"
)

// Run creates a queued run and prints its id.
func (c *RunCreateCmd) Run(a *app) error {
	var b *budget.Budget
	if c.Tokens > 0 {
		def := a.cfg.Budget
		nb := budget.New(def.MaxIterations, c.Tokens, def.MaxWallTimeSecs, def.MaxSubAgentRuns)
		b = &nb
	}
	eng, err := a.svc.CreateRun(c.Objective, c.Model, b)
	if err != nil {
		return err
	}
	fmt.Println(eng.ID())
	return nil
}

func (c *RunStartCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	if err := eng.Start(context.Background()); err != nil {
		return err
	}
	snap := eng.Snapshot()
	fmt.Printf("run %s: %s (%d tasks planned)\n", c.RunID, snap.Run.Status, len(snap.Tasks))
	return nil
}

func (c *RunApproveCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	if err := eng.Approve(c.Reason); err != nil {
		return err
	}
	fmt.Printf("run %s: executing\n", c.RunID)
	if c.Detach {
		return nil
	}
	return waitAndReport(eng)
}

// waitAndReport blocks until the execution loop settles and prints where the
// run landed. Gated tasks keep the loop alive until their verdicts arrive
// from another terminal.
func waitAndReport(eng *run.Engine) error {
	if err := eng.Wait(context.Background()); err != nil {
		return err
	}
	snap := eng.Snapshot()
	p := graph.Summarize(snap.Tasks)
	fmt.Printf("run %s: %s (%d/%d tasks done)\n", snap.Run.ID, snap.Run.Status, p.Done, p.Total)
	return nil
}

func (c *RunReviseCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	if err := eng.RequestRevision(context.Background(), c.Feedback); err != nil {
		return err
	}
	snap := eng.Snapshot()
	fmt.Printf("run %s: %s (%d tasks planned)\n", c.RunID, snap.Run.Status, len(snap.Tasks))
	return nil
}

func (c *RunPauseCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	return eng.Pause()
}

func (c *RunResumeCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	if err := eng.Resume(); err != nil {
		return err
	}
	if c.Detach {
		return nil
	}
	return waitAndReport(eng)
}

func (c *RunCancelCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	return eng.Cancel(c.Reason)
}

func (c *RunRestartCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	if err := eng.Restart(); err != nil {
		return err
	}
	if c.Detach {
		return nil
	}
	return waitAndReport(eng)
}

func (c *RunExtendCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	return eng.ExtendBudget(budget.Extension{
		Iterations:   c.Iterations,
		Tokens:       c.Tokens,
		WallTimeSecs: c.WallSecs,
		SubAgentRuns: c.SubagentRuns,
	}, c.Clear)
}

func (c *RunGetCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	snap := eng.Snapshot()
	fmt.Printf("run:       %s\n", snap.Run.ID)
	fmt.Printf("objective: %s\n", snap.Run.Objective)
	fmt.Printf("status:    %s\n", snap.Run.Status)
	if snap.Run.Rationale != "" {
		fmt.Printf("rationale: %s\n", snap.Run.Rationale)
	}
	fmt.Printf("tasks:     %d\n", len(snap.Tasks))
	fmt.Printf("budget:    %.0f%% of most-used cap", snap.Budget.UsagePercent()*100)
	if snap.Budget.Exceeded {
		fmt.Printf(" (exceeded: %s)", snap.Budget.ExceededReason)
	}
	fmt.Println()
	return nil
}

func (c *RunListCmd) Run(a *app) error {
	for _, s := range a.svc.List() {
		fmt.Printf("%s  %-18s  %d/%d tasks  %s\n", s.ID, s.Status, s.DoneCount, s.TaskCount, s.Objective)
	}
	return nil
}

func (c *RunTasksCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	for _, t := range eng.Snapshot().Tasks {
		line := fmt.Sprintf("%-12s %-12s %s", t.ID, t.State, t.Title)
		if t.Gate != "" {
			line += fmt.Sprintf(" [gate:%s]", t.Gate)
		}
		if t.ErrorMessage != "" {
			line += " - " + t.ErrorMessage
		}
		fmt.Println(line)
	}
	return nil
}

func (c *RunEventsCmd) Run(a *app) error {
	events, err := a.svc.Events(c.RunID, c.Since, c.Tail)
	if err != nil {
		return err
	}
	for _, ev := range events {
		line := fmt.Sprintf("%6d  %s  %s", ev.Seq, ev.Timestamp.Format("15:04:05"), ev.Type)
		if ev.TaskID != "" {
			line += "  task=" + ev.TaskID
		}
		if why, ok := ev.Payload["why"].(string); ok && why != "" {
			line += "  " + why
		}
		fmt.Println(line)
	}
	return nil
}

func (c *RunBoardCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	bb, err := eng.Board()
	if err != nil {
		return err
	}
	if bb.RollingSummary != "" {
		fmt.Printf("summary: %s\n", bb.RollingSummary)
	}
	for _, f := range bb.Facts {
		fmt.Printf("fact [%s]: %s\n", f.TaskID, f.Text)
	}
	for _, d := range bb.Decisions {
		fmt.Printf("decision [%s]: %s\n", d.TaskID, d.Text)
	}
	for _, q := range bb.OpenQuestions {
		fmt.Printf("open question: %s\n", q.Text)
	}
	for _, ar := range bb.Artifacts {
		fmt.Printf("artifact: %s (%s)\n", ar.Path, ar.Kind)
	}
	return nil
}

func (c *RunDriftCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	target := c.Seq
	if target == 0 {
		target = eng.Snapshot().Seq
	}
	d, err := eng.Audit(target)
	if err != nil {
		return err
	}
	fmt.Println(d.Format(c.Width))
	return nil
}

func (c *RunGateCmd) Run(a *app) error {
	eng, err := a.svc.Engine(c.RunID)
	if err != nil {
		return err
	}
	return eng.ClearGate(c.TaskID, c.Pass, c.Notes)
}
