// Package planner turns a run objective into a task graph by asking an LLM
// for a structured plan. Responses are contract-checked: strict mode rejects
// anything that is not the exact JSON shape, lenient mode salvages a plan
// embedded in surrounding prose and reports a warning.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/conductor/internal/graph"
)

// ContractError marks a planner response that violates the output contract.
type ContractError struct {
	Reason string
	Raw    string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("plan contract violation: %s", e.Reason)
}

// Request carries everything the planner prompt needs.
type Request struct {
	Objective        string
	RollingSummary   string
	RevisionFeedback string
	Roles            []string
}

// Plan is a parsed planner response.
type Plan struct {
	Rationale    string
	Tasks        []graph.Task
	Warnings     []string
	InputTokens  int
	OutputTokens int
}

// taskSpec mirrors the JSON contract for one planned task.
type taskSpec struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
	Role        string   `json:"role"`
	Gate        string   `json:"gate"`
	Class       string   `json:"class"`
}

type planPayload struct {
	Rationale string     `json:"rationale"`
	Tasks     []taskSpec `json:"tasks"`
}

// Planner generates and revises task graphs.
type Planner struct {
	provider llm.Provider
	strict   bool
	log      *logging.Logger
}

// New creates a planner. strict controls whether malformed responses fail
// hard or fall back to salvage parsing.
func New(provider llm.Provider, strict bool) *Planner {
	return &Planner{
		provider: provider,
		strict:   strict,
		log:      logging.New().WithComponent("planner"),
	}
}

const plannerSystemPrompt = `You are a planning assistant for an agent run orchestrator.
Given an objective, produce a task graph as JSON with this exact shape:

{"rationale": "<one paragraph>", "tasks": [{"id": "t1", "title": "...", "description": "...", "depends_on": [], "role": "builder", "gate": "", "class": "llm"}]}

Rules:
- Task ids are short, unique, and referenced only by later tasks.
- depends_on may only name earlier tasks in the list.
- gate is "", "review" or "test".
- class is one of "llm", "fs_write", "shell", "network".
Respond with the JSON object only.`

// Plan asks the provider for a task graph. RevisionFeedback, when set,
// turns the call into a replan of the same objective.
func (p *Planner) Plan(ctx context.Context, req Request) (*Plan, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Objective:\n%s\n", req.Objective)
	if len(req.Roles) > 0 {
		fmt.Fprintf(&user, "\nAvailable roles: %s\n", strings.Join(req.Roles, ", "))
	}
	if req.RollingSummary != "" {
		fmt.Fprintf(&user, "\nContext so far:\n%s\n", req.RollingSummary)
	}
	if req.RevisionFeedback != "" {
		fmt.Fprintf(&user, "\nThe previous plan was rejected. Revise it per this feedback:\n%s\n", req.RevisionFeedback)
	}

	resp, err := p.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: user.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("planner chat: %w", err)
	}

	plan, err := p.parse(resp.Content)
	if err != nil {
		return nil, err
	}
	plan.InputTokens = resp.InputTokens
	plan.OutputTokens = resp.OutputTokens

	p.log.Info("plan generated", map[string]interface{}{
		"tasks":    len(plan.Tasks),
		"warnings": len(plan.Warnings),
	})
	return plan, nil
}

// parse decodes a planner response into tasks. Structural violations of the
// task graph (duplicate ids, forward deps) are contract errors in both
// modes; only the outer JSON shape gets lenient salvage.
func (p *Planner) parse(content string) (*Plan, error) {
	var payload planPayload
	var warnings []string

	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		if p.strict {
			return nil, &ContractError{Reason: fmt.Sprintf("response is not the plan JSON object: %v", err), Raw: content}
		}
		salvaged, ok := salvageJSON(content)
		if !ok || json.Unmarshal([]byte(salvaged), &payload) != nil {
			return nil, &ContractError{Reason: "no plan object found in response", Raw: content}
		}
		warnings = append(warnings, "plan object was embedded in prose; salvaged by bracket matching")
		p.log.Warn("lenient plan salvage", map[string]interface{}{"bytes": len(content)})
	}

	if len(payload.Tasks) == 0 {
		return nil, &ContractError{Reason: "plan contains no tasks", Raw: content}
	}

	tasks := make([]graph.Task, 0, len(payload.Tasks))
	for _, spec := range payload.Tasks {
		t := graph.NewTask(spec.ID, spec.Title, spec.Description)
		t.Dependencies = spec.DependsOn
		t.AssignedRole = spec.Role
		switch spec.Gate {
		case "", string(graph.GateReview), string(graph.GateTest):
			t.Gate = graph.Gate(spec.Gate)
		default:
			warnings = append(warnings, fmt.Sprintf("task %s: unknown gate %q dropped", spec.ID, spec.Gate))
		}
		switch spec.Class {
		case string(graph.ClassLLM), string(graph.ClassFSWrite), string(graph.ClassShell), string(graph.ClassNetwork):
			t.Class = graph.ResourceClass(spec.Class)
		case "":
			t.Class = graph.ClassLLM
		default:
			warnings = append(warnings, fmt.Sprintf("task %s: unknown class %q mapped to llm", spec.ID, spec.Class))
			t.Class = graph.ClassLLM
		}
		tasks = append(tasks, t)
	}

	if err := graph.Validate(tasks); err != nil {
		var verr *graph.ValidationError
		if errors.As(err, &verr) {
			return nil, &ContractError{Reason: verr.Error(), Raw: content}
		}
		return nil, err
	}

	return &Plan{Rationale: payload.Rationale, Tasks: tasks, Warnings: warnings}, nil
}

// salvageJSON extracts the outermost brace-balanced object from prose, for
// responses wrapped in markdown fences or commentary.
func salvageJSON(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}
