package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/conductor/internal/approval"
	"github.com/vinayprograms/conductor/internal/budget"
	"github.com/vinayprograms/conductor/internal/mission"
)

// Run requests a spawn and blocks until the gate resolves or the wait
// window closes. Resolve the approval from another terminal with
// `conductor approval resolve`.
func (c *SpawnCmd) Run(a *app) error {
	wait, err := time.ParseDuration(c.Wait)
	if err != nil {
		return fmt.Errorf("parsing --wait: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	inst, err := a.svc.Spawn(ctx, c.RunID, mission.SpawnArgs{
		Role:          c.Role,
		Goal:          c.Goal,
		MissionID:     c.Mission,
		ParentID:      c.Parent,
		Justification: c.Justification,
		Budget: budget.New(a.cfg.Budget.MaxIterations, a.cfg.Budget.MaxTokens,
			a.cfg.Budget.MaxWallTimeSecs, a.cfg.Budget.MaxSubAgentRuns),
	})
	if err != nil {
		return err
	}
	fmt.Printf("instance %s spawned in mission %s\n", inst.ID, inst.MissionID)
	return nil
}

func (c *ApprovalListCmd) Run(a *app) error {
	pending := a.svc.Gate().Pending()
	if len(pending) == 0 {
		fmt.Println("no pending approvals")
		return nil
	}
	for _, p := range pending {
		line := fmt.Sprintf("%s  %-6s  %s", p.ID, p.Kind, p.RequestedAt.Format("15:04:05"))
		if p.Spawn != nil {
			line += fmt.Sprintf("  role=%s  %s", p.Spawn.Role, p.Spawn.Justification)
		}
		if p.Tool != nil {
			line += fmt.Sprintf("  tool=%s  session=%s  call=%s", p.Tool.Tool, p.Tool.SessionID, p.Tool.CallID)
		}
		fmt.Println(line)
	}
	return nil
}

func (c *ApprovalResolveCmd) Run(a *app) error {
	var res approval.Resolution
	var err error
	switch {
	case c.ApprovalID != "":
		res, err = a.svc.ResolveApproval(c.ApprovalID, c.Approve, c.Reason)
	case c.Session != "" && c.Call != "":
		res, err = a.svc.ResolveToolCall(c.Session, c.Call, c.Approve, c.Reason)
	default:
		return errors.New("pass an approval id, or both --session and --call")
	}
	if err != nil {
		return err
	}
	verdict := "denied"
	if res.Approved {
		verdict = "approved"
	}
	fmt.Printf("%s %s\n", res.ApprovalID, verdict)
	return nil
}

func (c *ApprovalGetCmd) Run(a *app) error {
	apr, res, err := a.svc.LookupApproval(c.ApprovalID)
	if err != nil {
		return err
	}
	fmt.Printf("approval:  %s (%s)\n", apr.ID, apr.Kind)
	fmt.Printf("requested: %s\n", apr.RequestedAt.Format("2006-01-02 15:04:05"))
	if apr.Spawn != nil {
		fmt.Printf("spawn:     role=%s  %s\n", apr.Spawn.Role, apr.Spawn.Justification)
	}
	if apr.Tool != nil {
		fmt.Printf("tool:      %s  session=%s  call=%s\n", apr.Tool.Tool, apr.Tool.SessionID, apr.Tool.CallID)
	}
	if res == nil {
		fmt.Println("verdict:   pending")
	} else if res.Approved {
		fmt.Printf("verdict:   approved (%s)\n", res.Reason)
	} else {
		fmt.Printf("verdict:   denied (%s)\n", res.Reason)
	}
	return nil
}

func (c *InstanceCancelCmd) Run(a *app) error {
	return a.svc.Missions().CancelInstance(c.InstanceID, c.Reason)
}

func (c *MissionGetCmd) Run(a *app) error {
	coord := a.svc.Missions()
	m, ok := coord.Mission(c.MissionID)
	if !ok {
		return mission.ErrUnknownMission
	}
	agg, err := coord.Aggregate(c.MissionID)
	if err != nil {
		return err
	}
	fmt.Printf("mission:   %s\n", m.ID)
	fmt.Printf("goal:      %s\n", m.Goal)
	fmt.Printf("instances: %d (%d running, %d completed, %d failed, %d cancelled)\n",
		agg.Instances, agg.Running, agg.Completed, agg.Failed, agg.Cancelled)
	fmt.Printf("usage:     %d tokens, %d tool calls, %d steps, $%.2f\n",
		agg.Tokens, agg.ToolCalls, agg.Steps, agg.CostUSD)
	for _, inst := range coord.Instances(c.MissionID) {
		line := fmt.Sprintf("  %s  %-10s  %s", inst.ID, inst.Status, inst.Role)
		if inst.ParentID != "" {
			line += "  parent=" + inst.ParentID
		}
		fmt.Println(line)
	}
	return nil
}

func (c *MissionCancelCmd) Run(a *app) error {
	return a.svc.Missions().CancelMission(c.MissionID, c.Reason)
}
