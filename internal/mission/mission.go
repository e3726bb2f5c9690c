// Package mission coordinates trees of spawned agent instances. Instances
// form a parent-referencing arena keyed by id; traversal is index lookups,
// never embedded child pointers, so mission-wide cascades are linear scans.
package mission

import (
	"time"

	"github.com/vinayprograms/conductor/internal/budget"
)

// InstanceStatus is the lifecycle state of a spawned instance.
type InstanceStatus string

const (
	InstanceRunning   InstanceStatus = "running"
	InstanceCompleted InstanceStatus = "completed"
	InstanceFailed    InstanceStatus = "failed"
	InstanceCancelled InstanceStatus = "cancelled"
)

// Mission groups a tree of instances pursuing one goal.
type Mission struct {
	ID        string    `json:"mission_id"`
	Goal      string    `json:"goal"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage counts what an instance has consumed. Totals are aggregated per
// mission on demand, never stored.
type Usage struct {
	Tokens    uint64  `json:"tokens"`
	ToolCalls uint32  `json:"tool_calls"`
	Steps     uint32  `json:"steps"`
	CostUSD   float64 `json:"cost_usd"`
}

// Instance is one spawned agent. ParentID empty means root of its mission;
// a parent is always created strictly before its children, so the tree is
// acyclic by construction.
type Instance struct {
	ID           string         `json:"instance_id"`
	MissionID    string         `json:"mission_id"`
	ParentID     string         `json:"parent_id,omitempty"`
	Role         string         `json:"role"`
	Status       InstanceStatus `json:"status"`
	SessionID    string         `json:"session_id,omitempty"`
	Budget       budget.Budget  `json:"budget"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Usage        Usage          `json:"usage"`
	StatusReason string         `json:"status_reason,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Aggregates are derived mission-level totals.
type Aggregates struct {
	Instances uint32  `json:"instances"`
	Running   uint32  `json:"running"`
	Completed uint32  `json:"completed"`
	Failed    uint32  `json:"failed"`
	Cancelled uint32  `json:"cancelled"`
	Tokens    uint64  `json:"tokens"`
	ToolCalls uint32  `json:"tool_calls"`
	Steps     uint32  `json:"steps"`
	CostUSD   float64 `json:"cost_usd"`
}
