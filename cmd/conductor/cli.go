// Package main defines the CLI structure using kong.
package main

// CLI defines the command-line interface.
type CLI struct {
	Config string `help:"Config file path" type:"path"`

	Run      RunGroup      `cmd:"" help:"Manage runs"`
	Spawn    SpawnCmd      `cmd:"" help:"Spawn an agent instance (requires approval)"`
	Approval ApprovalGroup `cmd:"" help:"Inspect and resolve pending approvals"`
	Instance InstanceGroup `cmd:"" help:"Manage spawned instances"`
	Mission  MissionGroup  `cmd:"" help:"Manage missions"`
	Routine  RoutineGroup  `cmd:"" help:"Manage scheduled routines"`
	Serve    ServeCmd      `cmd:"" help:"Run the routine scheduler until interrupted"`
	Version  VersionCmd    `cmd:"" help:"Show version information"`
}

// RunGroup holds the run lifecycle commands.
type RunGroup struct {
	Create  RunCreateCmd  `cmd:"" help:"Create a run"`
	Start   RunStartCmd   `cmd:"" help:"Start planning for a run"`
	Approve RunApproveCmd `cmd:"" help:"Approve the pending plan"`
	Revise  RunReviseCmd  `cmd:"" help:"Reject the pending plan with feedback"`
	Pause   RunPauseCmd   `cmd:"" help:"Pause an executing run"`
	Resume  RunResumeCmd  `cmd:"" help:"Resume a paused run"`
	Cancel  RunCancelCmd  `cmd:"" help:"Cancel a run"`
	Restart RunRestartCmd `cmd:"" help:"Restart a terminal run"`
	Extend  RunExtendCmd  `cmd:"" help:"Extend a run's budget caps"`
	Get     RunGetCmd     `cmd:"" help:"Show one run"`
	List    RunListCmd    `cmd:"" help:"List runs"`
	Tasks   RunTasksCmd   `cmd:"" help:"List a run's tasks"`
	Events  RunEventsCmd  `cmd:"" help:"Show a run's event log"`
	Board   RunBoardCmd   `cmd:"" help:"Show a run's blackboard"`
	Drift   RunDriftCmd   `cmd:"" help:"Replay the event log and report drift"`
	Gate    RunGateCmd    `cmd:"" help:"Record a review/test gate verdict"`
}

// RunCreateCmd creates a queued run.
type RunCreateCmd struct {
	Objective string `arg:"" help:"What the run should accomplish"`
	Model     string `help:"Model override for this run"`
	Tokens    uint64 `help:"Token budget cap (0 = configured default)"`
}

// RunStartCmd begins planning.
type RunStartCmd struct {
	RunID string `arg:"" help:"Run id"`
}

// RunApproveCmd accepts the pending plan.
type RunApproveCmd struct {
	RunID  string `arg:"" help:"Run id"`
	Reason string `help:"Recorded approval rationale"`
	Detach bool   `help:"Return immediately instead of waiting for execution to settle"`
}

// RunReviseCmd sends the plan back with feedback.
type RunReviseCmd struct {
	RunID    string `arg:"" help:"Run id"`
	Feedback string `arg:"" help:"What to change"`
}

// RunPauseCmd pauses execution.
type RunPauseCmd struct {
	RunID string `arg:"" help:"Run id"`
}

// RunResumeCmd resumes a paused run.
type RunResumeCmd struct {
	RunID  string `arg:"" help:"Run id"`
	Detach bool   `help:"Return immediately instead of waiting for execution to settle"`
}

// RunCancelCmd cancels a run.
type RunCancelCmd struct {
	RunID  string `arg:"" help:"Run id"`
	Reason string `help:"Recorded cancellation reason"`
}

// RunRestartCmd re-queues a terminal run's unfinished work.
type RunRestartCmd struct {
	RunID  string `arg:"" help:"Run id"`
	Detach bool   `help:"Return immediately instead of waiting for execution to settle"`
}

// RunExtendCmd raises budget caps.
type RunExtendCmd struct {
	RunID        string `arg:"" help:"Run id"`
	Iterations   uint32 `help:"Additional iterations"`
	Tokens       uint64 `help:"Additional tokens"`
	WallSecs     uint64 `help:"Additional wall-time seconds"`
	SubagentRuns uint32 `help:"Additional sub-agent runs"`
	Clear        bool   `help:"Clear the exceeded flag if headroom returns"`
}

// RunGetCmd prints one run.
type RunGetCmd struct {
	RunID string `arg:"" help:"Run id"`
}

// RunListCmd lists runs.
type RunListCmd struct{}

// RunTasksCmd lists a run's tasks.
type RunTasksCmd struct {
	RunID string `arg:"" help:"Run id"`
}

// RunEventsCmd prints a run's events.
type RunEventsCmd struct {
	RunID string `arg:"" help:"Run id"`
	Since uint64 `help:"Only events after this sequence number"`
	Tail  int    `help:"Only the last N events"`
}

// RunBoardCmd prints a run's blackboard.
type RunBoardCmd struct {
	RunID string `arg:"" help:"Run id"`
}

// RunDriftCmd replays the log and reports drift.
type RunDriftCmd struct {
	RunID string `arg:"" help:"Run id"`
	Seq   uint64 `help:"Replay target sequence (0 = latest)"`
	Width int    `default:"100" help:"Report width"`
}

// RunGateCmd records a gate verdict for a task.
type RunGateCmd struct {
	RunID  string `arg:"" help:"Run id"`
	TaskID string `arg:"" help:"Task id"`
	Pass   bool   `help:"Gate verdict (default deny)"`
	Notes  string `help:"Reviewer notes"`
}

// SpawnCmd requests a new agent instance.
type SpawnCmd struct {
	RunID         string `required:"" help:"Run charged for the spawn"`
	Role          string `required:"" help:"Instance role"`
	Goal          string `help:"Mission goal (new mission when --mission is unset)"`
	Mission       string `help:"Existing mission id"`
	Parent        string `help:"Parent instance id"`
	Justification string `required:"" help:"Why the instance is needed"`
	Wait          string `default:"1m" help:"How long to wait for approval"`
}

// ApprovalGroup holds approval queue commands.
type ApprovalGroup struct {
	List    ApprovalListCmd    `cmd:"" help:"List pending approvals"`
	Resolve ApprovalResolveCmd `cmd:"" help:"Approve or deny a pending request"`
	Get     ApprovalGetCmd     `cmd:"" help:"Show one approval from the audit trail"`
}

// ApprovalListCmd lists pending approvals.
type ApprovalListCmd struct{}

// ApprovalResolveCmd settles one approval, addressed either by approval id
// or by the session/call pair of a pending tool request.
type ApprovalResolveCmd struct {
	ApprovalID string `arg:"" optional:"" help:"Approval id"`
	Session    string `help:"Session id of a pending tool call"`
	Call       string `help:"Call id of a pending tool call"`
	Approve    bool   `help:"Approve (default deny)"`
	Reason     string `help:"Recorded decision reason"`
}

// ApprovalGetCmd shows one journalled approval.
type ApprovalGetCmd struct {
	ApprovalID string `arg:"" help:"Approval id"`
}

// InstanceGroup holds instance commands.
type InstanceGroup struct {
	Cancel InstanceCancelCmd `cmd:"" help:"Cancel an instance and its subtree"`
}

// InstanceCancelCmd cancels one instance subtree.
type InstanceCancelCmd struct {
	InstanceID string `arg:"" help:"Instance id"`
	Reason     string `help:"Recorded cancellation reason"`
}

// MissionGroup holds mission commands.
type MissionGroup struct {
	Get    MissionGetCmd    `cmd:"" help:"Show a mission's instances and totals"`
	Cancel MissionCancelCmd `cmd:"" help:"Cancel every instance in a mission"`
}

// MissionGetCmd prints a mission.
type MissionGetCmd struct {
	MissionID string `arg:"" help:"Mission id"`
}

// MissionCancelCmd cancels a mission tree.
type MissionCancelCmd struct {
	MissionID string `arg:"" help:"Mission id"`
	Reason    string `help:"Recorded cancellation reason"`
}

// RoutineGroup holds routine commands.
type RoutineGroup struct {
	Create RoutineCreateCmd `cmd:"" help:"Create a scheduled routine"`
	Patch  RoutinePatchCmd  `cmd:"" help:"Update a routine in place"`
	List   RoutineListCmd   `cmd:"" help:"List routines"`
	Runs   RoutineRunsCmd   `cmd:"" help:"List runs a routine has fired"`
}

// RoutineCreateCmd creates a routine spec.
type RoutineCreateCmd struct {
	ID        string `arg:"" help:"Routine id"`
	Objective string `required:"" help:"Objective for each fired run"`
	Name      string `help:"Display name"`
	Interval  string `required:"" help:"Tick interval (e.g. 1h, 30m)"`
	Enabled   bool   `default:"true" negatable:"" help:"Schedule immediately"`
	MaxTokens uint64 `help:"Token cap override for fired runs"`
}

// RoutinePatchCmd updates selected routine fields.
type RoutinePatchCmd struct {
	ID        string  `arg:"" help:"Routine id"`
	Objective *string `help:"New objective"`
	Name      *string `help:"New display name"`
	Interval  *string `help:"New tick interval"`
	Enabled   *bool   `help:"Enable or disable (--enabled=false to stop)"`
}

// RoutineListCmd lists routines.
type RoutineListCmd struct{}

// RoutineRunsCmd lists a routine's fired runs.
type RoutineRunsCmd struct {
	ID string `arg:"" optional:"" help:"Routine id (all when omitted)"`
}

// ServeCmd runs the routine scheduler in the foreground.
type ServeCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}
