package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/vinayprograms/conductor/internal/graph"
)

const goodPlan = `{
  "rationale": "split the work into research then build",
  "tasks": [
    {"id": "t1", "title": "Research", "description": "gather context", "depends_on": [], "role": "researcher", "gate": "", "class": "network"},
    {"id": "t2", "title": "Build", "description": "implement", "depends_on": ["t1"], "role": "builder", "gate": "review", "class": "fs_write"}
  ]
}`

func providerReturning(content string) *llm.MockProvider {
	p := llm.NewMockProvider()
	p.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: content, InputTokens: 120, OutputTokens: 80}, nil
	}
	return p
}

func TestPlan_ParsesStrictResponse(t *testing.T) {
	p := New(providerReturning(goodPlan), true)
	plan, err := p.Plan(context.Background(), Request{Objective: "ship the thing"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(plan.Tasks))
	}
	if plan.Rationale == "" {
		t.Error("rationale should be carried")
	}
	if plan.Tasks[1].Gate != graph.GateReview || plan.Tasks[1].Class != graph.ClassFSWrite {
		t.Errorf("task attrs not mapped: %+v", plan.Tasks[1])
	}
	if plan.InputTokens != 120 || plan.OutputTokens != 80 {
		t.Errorf("token usage not carried: %d/%d", plan.InputTokens, plan.OutputTokens)
	}
	if len(plan.Warnings) != 0 {
		t.Errorf("clean response should carry no warnings: %v", plan.Warnings)
	}
}

func TestPlan_StrictRejectsProse(t *testing.T) {
	wrapped := "Here is your plan:\n```json\n" + goodPlan + "\n```\nGood luck!"
	p := New(providerReturning(wrapped), true)
	_, err := p.Plan(context.Background(), Request{Objective: "x"})
	var cerr *ContractError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ContractError, got %v", err)
	}
}

func TestPlan_LenientSalvagesProse(t *testing.T) {
	wrapped := "Here is your plan:\n```json\n" + goodPlan + "\n```\nGood luck!"
	p := New(providerReturning(wrapped), false)
	plan, err := p.Plan(context.Background(), Request{Objective: "x"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Tasks) != 2 {
		t.Errorf("salvage should recover both tasks, got %d", len(plan.Tasks))
	}
	if len(plan.Warnings) == 0 {
		t.Error("salvage must report a warning")
	}
}

func TestPlan_GraphViolationsFailBothModes(t *testing.T) {
	forward := `{"rationale": "r", "tasks": [
		{"id": "t1", "title": "A", "depends_on": ["t2"]},
		{"id": "t2", "title": "B", "depends_on": []}
	]}`
	for _, strict := range []bool{true, false} {
		p := New(providerReturning(forward), strict)
		_, err := p.Plan(context.Background(), Request{Objective: "x"})
		var cerr *ContractError
		if !errors.As(err, &cerr) {
			t.Errorf("strict=%v: forward dependency should be a contract error, got %v", strict, err)
		}
	}
}

func TestPlan_EmptyTaskList(t *testing.T) {
	p := New(providerReturning(`{"rationale": "nothing to do", "tasks": []}`), false)
	_, err := p.Plan(context.Background(), Request{Objective: "x"})
	var cerr *ContractError
	if !errors.As(err, &cerr) {
		t.Errorf("empty plan should be a contract error, got %v", err)
	}
}

func TestPlan_UnknownGateDropsToWarning(t *testing.T) {
	odd := `{"rationale": "r", "tasks": [
		{"id": "t1", "title": "A", "gate": "compliance", "class": "teleport"}
	]}`
	p := New(providerReturning(odd), true)
	plan, err := p.Plan(context.Background(), Request{Objective: "x"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Tasks[0].Gate != graph.GateNone {
		t.Errorf("unknown gate should drop to none, got %q", plan.Tasks[0].Gate)
	}
	if plan.Tasks[0].Class != graph.ClassLLM {
		t.Errorf("unknown class should map to llm, got %q", plan.Tasks[0].Class)
	}
	if len(plan.Warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", plan.Warnings)
	}
}

func TestPlan_RevisionFeedbackReachesPrompt(t *testing.T) {
	var captured string
	p := llm.NewMockProvider()
	p.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		captured = req.Messages[len(req.Messages)-1].Content
		return &llm.ChatResponse{Content: goodPlan}, nil
	}
	planner := New(p, true)
	_, err := planner.Plan(context.Background(), Request{
		Objective:        "ship",
		RollingSummary:   "facts so far",
		RevisionFeedback: "merge the last two tasks",
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, want := range []string{"ship", "facts so far", "merge the last two tasks"} {
		if !strings.Contains(captured, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
