package main

import (
	"testing"

	"github.com/alecthomas/kong"
)

func newParser(t *testing.T, cli *CLI) *kong.Kong {
	t.Helper()
	parser, err := kong.New(cli)
	if err != nil {
		t.Fatal(err)
	}
	return parser
}

func TestRunCreateCmd_Parse(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"run", "create", "refactor the parser", "--tokens", "5000"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Run.Create.Objective != "refactor the parser" {
		t.Errorf("expected objective, got %q", cli.Run.Create.Objective)
	}
	if cli.Run.Create.Tokens != 5000 {
		t.Errorf("expected tokens 5000, got %d", cli.Run.Create.Tokens)
	}
}

func TestRunGateCmd_Parse(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"run", "gate", "run-1", "task-a", "--pass", "--notes", "looks good"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Run.Gate.RunID != "run-1" || cli.Run.Gate.TaskID != "task-a" {
		t.Errorf("unexpected args: %q %q", cli.Run.Gate.RunID, cli.Run.Gate.TaskID)
	}
	if !cli.Run.Gate.Pass {
		t.Error("expected --pass to be set")
	}
	if cli.Run.Gate.Notes != "looks good" {
		t.Errorf("expected notes, got %q", cli.Run.Gate.Notes)
	}
}

func TestRunExtendCmd_Parse(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"run", "extend", "run-1", "--tokens", "1000", "--wall-secs", "600", "--clear"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Run.Extend.Tokens != 1000 || cli.Run.Extend.WallSecs != 600 {
		t.Errorf("unexpected extension: %+v", cli.Run.Extend)
	}
	if !cli.Run.Extend.Clear {
		t.Error("expected --clear to be set")
	}
}

func TestSpawnCmd_Parse(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{
		"spawn", "--run-id", "run-1", "--role", "researcher",
		"--justification", "needs a web search pass", "--wait", "30s",
	})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Spawn.Role != "researcher" {
		t.Errorf("expected role researcher, got %q", cli.Spawn.Role)
	}
	if cli.Spawn.Wait != "30s" {
		t.Errorf("expected wait 30s, got %q", cli.Spawn.Wait)
	}
}

func TestSpawnCmd_RequiresJustification(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"spawn", "--run-id", "run-1", "--role", "researcher"})
	if err == nil {
		t.Error("expected error for missing --justification")
	}
}

func TestApprovalResolveCmd_Parse(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"approval", "resolve", "apr-1", "--approve", "--reason", "scoped and cheap"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Approval.Resolve.ApprovalID != "apr-1" || !cli.Approval.Resolve.Approve {
		t.Errorf("unexpected resolve args: %+v", cli.Approval.Resolve)
	}
}

func TestApprovalResolveCmd_ParseSessionCall(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{
		"approval", "resolve", "--session", "sess-1", "--call", "call-2", "--approve",
	})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Approval.Resolve.ApprovalID != "" {
		t.Errorf("approval id should stay empty, got %q", cli.Approval.Resolve.ApprovalID)
	}
	if cli.Approval.Resolve.Session != "sess-1" || cli.Approval.Resolve.Call != "call-2" {
		t.Errorf("unexpected session/call: %+v", cli.Approval.Resolve)
	}
}

func TestRunApproveCmd_ParseDetach(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"run", "approve", "run-1", "--detach"})
	if err != nil {
		t.Fatal(err)
	}

	if !cli.Run.Approve.Detach {
		t.Error("expected --detach to be set")
	}
}

func TestRoutineCreateCmd_Parse(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{
		"routine", "create", "nightly",
		"--objective", "summarize open issues", "--interval", "24h", "--no-enabled",
	})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Routine.Create.ID != "nightly" {
		t.Errorf("expected id nightly, got %q", cli.Routine.Create.ID)
	}
	if cli.Routine.Create.Enabled {
		t.Error("expected --no-enabled to disable")
	}
}

func TestRoutineCreateCmd_EnabledByDefault(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"routine", "create", "hourly", "--objective", "sweep", "--interval", "1h"})
	if err != nil {
		t.Fatal(err)
	}

	if !cli.Routine.Create.Enabled {
		t.Error("expected enabled default true")
	}
}

func TestRunDriftCmd_DefaultWidth(t *testing.T) {
	var cli CLI
	parser := newParser(t, &cli)

	_, err := parser.Parse([]string{"run", "drift", "run-1"})
	if err != nil {
		t.Fatal(err)
	}

	if cli.Run.Drift.Width != 100 {
		t.Errorf("expected default width 100, got %d", cli.Run.Drift.Width)
	}
}
