package graph

import "fmt"

// ValidationError describes a structural problem with a planned task list.
type ValidationError struct {
	Kind         string
	TaskID       string
	DependencyID string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case "empty":
		return "task list is empty"
	case "duplicate_id":
		return fmt.Sprintf("duplicate task id %q", e.TaskID)
	case "unknown_dependency":
		return fmt.Sprintf("task %q depends on unknown task %q", e.TaskID, e.DependencyID)
	case "forward_dependency":
		return fmt.Sprintf("task %q depends on later-declared task %q", e.TaskID, e.DependencyID)
	case "self_dependency":
		return fmt.Sprintf("task %q depends on itself", e.TaskID)
	default:
		return "invalid task graph"
	}
}

// Validate checks a planned task list. Dependencies may only reference
// earlier-declared tasks, which makes the graph acyclic by construction.
func Validate(tasks []Task) error {
	if len(tasks) == 0 {
		return &ValidationError{Kind: "empty"}
	}
	declared := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if declared[t.ID] {
			return &ValidationError{Kind: "duplicate_id", TaskID: t.ID}
		}
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return &ValidationError{Kind: "self_dependency", TaskID: t.ID}
			}
			if !declared[dep] {
				// Distinguish a dep that exists later from one that
				// never exists at all.
				if containsLater(tasks, dep) {
					return &ValidationError{Kind: "forward_dependency", TaskID: t.ID, DependencyID: dep}
				}
				return &ValidationError{Kind: "unknown_dependency", TaskID: t.ID, DependencyID: dep}
			}
		}
		declared[t.ID] = true
	}
	return nil
}

func containsLater(tasks []Task, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Refresh recomputes derived task states in place: pending tasks whose
// dependencies are all done become runnable, and tasks with a permanently
// failed or blocked ancestor become blocked. Called on every state change.
// Declaration order is preserved, so admission ties stay deterministic.
func Refresh(tasks []Task) {
	done := make(map[string]bool)
	dead := make(map[string]bool)
	for _, t := range tasks {
		switch t.State {
		case TaskDone:
			done[t.ID] = true
		case TaskFailed, TaskBlocked:
			dead[t.ID] = true
		}
	}

	for i := range tasks {
		t := &tasks[i]
		if t.Terminal() || t.State == TaskInProgress {
			continue
		}

		unsatisfiable := false
		satisfied := true
		for _, dep := range t.Dependencies {
			if dead[dep] {
				unsatisfiable = true
				break
			}
			if !done[dep] {
				satisfied = false
			}
		}

		switch {
		case unsatisfiable:
			t.State = TaskBlocked
			if t.ErrorMessage == "" {
				t.ErrorMessage = "blocked by failed dependency"
			}
			dead[t.ID] = true
		case satisfied:
			t.State = TaskRunnable
		default:
			t.State = TaskPending
		}
	}
}

// Runnable returns the indexes of runnable tasks in declaration order.
func Runnable(tasks []Task) []int {
	var idx []int
	for i, t := range tasks {
		if t.State == TaskRunnable {
			idx = append(idx, i)
		}
	}
	return idx
}

// AllSettled reports whether no task can make further progress.
func AllSettled(tasks []Task) bool {
	for _, t := range tasks {
		if !t.Terminal() {
			return false
		}
	}
	return true
}

// AllDone reports whether every task completed successfully.
func AllDone(tasks []Task) bool {
	for _, t := range tasks {
		if t.State != TaskDone {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any task failed permanently.
func AnyFailed(tasks []Task) bool {
	for _, t := range tasks {
		if t.State == TaskFailed {
			return true
		}
	}
	return false
}

// Progress summarizes task states for snapshots.
type Progress struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Runnable   int `json:"runnable"`
	InProgress int `json:"in_progress"`
	Blocked    int `json:"blocked"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
}

// Summarize counts tasks by state.
func Summarize(tasks []Task) Progress {
	p := Progress{Total: len(tasks)}
	for _, t := range tasks {
		switch t.State {
		case TaskPending:
			p.Pending++
		case TaskRunnable:
			p.Runnable++
		case TaskInProgress:
			p.InProgress++
		case TaskBlocked:
			p.Blocked++
		case TaskDone:
			p.Done++
		case TaskFailed:
			p.Failed++
		}
	}
	return p
}

// Completion returns the fraction of tasks done (0.0-1.0).
func (p Progress) Completion() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total)
}
