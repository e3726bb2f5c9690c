// Package graph holds the task dependency graph and its scheduler.
package graph

// TaskState is the lifecycle state of a task within a run.
type TaskState string

const (
	// TaskPending means one or more dependencies are not done yet.
	TaskPending TaskState = "pending"
	// TaskRunnable means every dependency is done and the task is
	// waiting for an admission slot.
	TaskRunnable TaskState = "runnable"
	// TaskInProgress means the task has been admitted and is executing.
	TaskInProgress TaskState = "in_progress"
	// TaskDone means the task completed (and, if gated, was validated).
	TaskDone TaskState = "done"
	// TaskFailed means the task failed past its retry budget.
	TaskFailed TaskState = "failed"
	// TaskBlocked means an ancestor failed permanently, so the task can
	// never become runnable.
	TaskBlocked TaskState = "blocked"
)

// Gate marks a task that needs an approval/validation event before it can
// be marked done.
type Gate string

const (
	GateNone   Gate = ""
	GateReview Gate = "review"
	GateTest   Gate = "test"
)

// ResourceClass categorizes a task for per-class admission sub-limits.
type ResourceClass string

const (
	ClassLLM     ResourceClass = "llm"
	ClassFSWrite ResourceClass = "fs_write"
	ClassShell   ResourceClass = "shell"
	ClassNetwork ResourceClass = "network"
)

// Task is one unit of work in a run's dependency graph. Tasks are created
// in a batch during planning; the dependency set is immutable afterwards
// and tasks are only ever state-transitioned, never deleted.
type Task struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Dependencies []string      `json:"dependencies,omitempty"`
	AssignedRole string        `json:"assigned_role,omitempty"`
	Gate         Gate          `json:"gate,omitempty"`
	Class        ResourceClass `json:"class,omitempty"`
	State        TaskState     `json:"state"`
	RetryCount   uint32        `json:"retry_count"`
	ErrorMessage string        `json:"error_message,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	GateCleared  bool          `json:"gate_cleared,omitempty"`
}

// NewTask returns a pending task with the given identity.
func NewTask(id, title, description string) Task {
	return Task{
		ID:          id,
		Title:       title,
		Description: description,
		State:       TaskPending,
		Class:       ClassLLM,
	}
}

// Terminal reports whether the task can no longer transition on its own.
func (t Task) Terminal() bool {
	return t.State == TaskDone || t.State == TaskFailed || t.State == TaskBlocked
}
