package run

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/llm"

	"github.com/vinayprograms/conductor/internal/approval"
	"github.com/vinayprograms/conductor/internal/graph"
)

const workerSystemPrompt = `You are a worker agent executing one task from an approved plan.
Do the task described by the user and reply with the result. Be concrete
and complete; your reply is recorded as the task output.`

// LLMExecutor executes tasks by delegating to the configured model. Tool
// use and sandboxing live outside the engine; the executor only carries
// the conversation and accounts for tokens.
type LLMExecutor struct {
	provider llm.Provider
}

// NewLLMExecutor wraps a provider as a TaskExecutor.
func NewLLMExecutor(provider llm.Provider) *LLMExecutor {
	return &LLMExecutor{provider: provider}
}

// Execute runs one task attempt.
func (x *LLMExecutor) Execute(ctx context.Context, t graph.Task) (TaskResult, error) {
	task := t.Title
	if t.Description != "" {
		task += "\n\n" + t.Description
	}
	if t.AssignedRole != "" {
		task = "Role: " + t.AssignedRole + "\n\n" + task
	}
	resp, err := x.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: workerSystemPrompt},
			{Role: "user", Content: task},
		},
	})
	if err != nil {
		return TaskResult{}, fmt.Errorf("executing task %s: %w", t.ID, err)
	}
	return TaskResult{
		Output: resp.Content,
		Tokens: uint64(resp.InputTokens + resp.OutputTokens),
	}, nil
}

// GatedExecutor holds task attempts in approval-required resource classes
// until an operator settles the tool approval. Each attempt raises one
// request carrying the worker session and a fresh call id, so a verdict
// targets exactly that attempt. Denial fails the attempt and consumes a
// retry like any other execution error.
type GatedExecutor struct {
	next    TaskExecutor
	gate    *approval.Gate
	classes map[graph.ResourceClass]bool
}

// NewGatedExecutor wraps an executor with per-class tool approval.
func NewGatedExecutor(next TaskExecutor, gate *approval.Gate, classes []graph.ResourceClass) *GatedExecutor {
	set := make(map[graph.ResourceClass]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	return &GatedExecutor{next: next, gate: gate, classes: set}
}

// Execute requests approval when the task's class demands it, then delegates.
func (x *GatedExecutor) Execute(ctx context.Context, t graph.Task) (TaskResult, error) {
	if x.gate == nil || !x.classes[t.Class] {
		return x.next.Execute(ctx, t)
	}
	session := t.SessionID
	if session == "" {
		session = t.ID
	}
	req := x.gate.RequestTool(approval.ToolRequest{
		SessionID: session,
		Tool:      string(t.Class),
		CallID:    uuid.NewString(),
	})
	if _, err := x.gate.Await(ctx, req.ID); err != nil {
		return TaskResult{}, fmt.Errorf("tool approval for task %s: %w", t.ID, err)
	}
	res, err := x.next.Execute(ctx, t)
	if err != nil {
		return TaskResult{}, err
	}
	if res.SessionID == "" {
		res.SessionID = session
	}
	return res, nil
}
