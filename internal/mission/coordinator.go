package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/conductor/internal/approval"
	"github.com/vinayprograms/conductor/internal/budget"
	"github.com/vinayprograms/conductor/internal/eventlog"
	"github.com/vinayprograms/conductor/internal/stream"
)

// ErrUnknownMission is returned for operations against a mission id that was
// never created.
var ErrUnknownMission = errors.New("unknown mission")

// ErrUnknownInstance is returned for operations against an instance id that
// was never spawned.
var ErrUnknownInstance = errors.New("unknown instance")

// ErrParentMismatch is returned when a spawn names a parent outside the
// target mission.
var ErrParentMismatch = errors.New("parent instance belongs to a different mission")

// EventSink receives lifecycle events. The run's event log satisfies this.
type EventSink interface {
	Append(evType, taskID string, payload map[string]any) (eventlog.Event, error)
}

// SpawnArgs describes a requested instance. MissionID empty means start a
// new mission rooted at this instance; ParentID empty means the instance is
// a mission root.
type SpawnArgs struct {
	Role          string
	Goal          string
	MissionID     string
	ParentID      string
	Justification string
	Budget        budget.Budget
	Capabilities  []string
}

// Coordinator owns the mission and instance registries. Every spawn passes
// through the approval gate before an instance exists; a denial leaves no
// trace in the registry.
type Coordinator struct {
	gate  *approval.Gate
	pub   stream.Publisher
	sink  EventSink
	store *Store
	log   *logging.Logger

	mu        sync.Mutex
	missions  map[string]Mission
	mOrder    []string
	instances map[string]*Instance
	order     []string
}

// NewCoordinator creates an empty registry. sink may be nil.
func NewCoordinator(gate *approval.Gate, pub stream.Publisher, sink EventSink) *Coordinator {
	if pub == nil {
		pub = stream.Nop{}
	}
	return &Coordinator{
		gate:      gate,
		pub:       pub,
		sink:      sink,
		log:       logging.New().WithComponent("mission"),
		missions:  make(map[string]Mission),
		instances: make(map[string]*Instance),
	}
}

// AttachStore loads the persisted registry and keeps it in sync from then
// on. Call before the first spawn.
func (c *Coordinator) AttachStore(store *Store) error {
	missions, instances, err := store.Load()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
	for _, m := range missions {
		c.missions[m.ID] = m
		c.mOrder = append(c.mOrder, m.ID)
	}
	for i := range instances {
		inst := instances[i]
		c.instances[inst.ID] = &inst
		c.order = append(c.order, inst.ID)
	}
	return nil
}

// persistLocked writes the registry best-effort. Caller holds c.mu.
func (c *Coordinator) persistLocked() {
	if c.store == nil {
		return
	}
	missions := make([]Mission, 0, len(c.mOrder))
	for _, id := range c.mOrder {
		missions = append(missions, c.missions[id])
	}
	instances := make([]Instance, 0, len(c.order))
	for _, id := range c.order {
		instances = append(instances, *c.instances[id])
	}
	if err := c.store.Save(missions, instances); err != nil {
		c.log.Warn("registry persist failed", map[string]interface{}{"error": err.Error()})
	}
}

func (c *Coordinator) emit(evType, refID string, payload map[string]any) {
	if c.sink != nil {
		if _, err := c.sink.Append(evType, "", payload); err != nil {
			c.log.Warn("event append failed", map[string]interface{}{
				"type":  evType,
				"error": err.Error(),
			})
		}
	}
	if err := c.pub.Publish(stream.Envelope{
		Scope:     stream.ScopeMission,
		Kind:      evType,
		MissionID: payloadString(payload, "mission_id"),
		RefID:     refID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		c.log.Warn("stream publish failed", map[string]interface{}{
			"type":  evType,
			"error": err.Error(),
		})
	}
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

// CreateMission registers a new mission.
func (c *Coordinator) CreateMission(goal string) Mission {
	m := Mission{ID: uuid.NewString(), Goal: goal, CreatedAt: time.Now().UTC()}
	c.mu.Lock()
	c.missions[m.ID] = m
	c.mOrder = append(c.mOrder, m.ID)
	c.persistLocked()
	c.mu.Unlock()
	c.log.Info("mission created", map[string]interface{}{"mission_id": m.ID})
	return m
}

// Mission returns a mission by id.
func (c *Coordinator) Mission(id string) (Mission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.missions[id]
	return m, ok
}

// Spawn requests approval for a new instance and, once granted, registers
// it. The call blocks until the gate resolves or ctx expires. On denial no
// instance is created and no spawn event is emitted.
func (c *Coordinator) Spawn(ctx context.Context, args SpawnArgs) (*Instance, error) {
	c.mu.Lock()
	missionID := args.MissionID
	if args.ParentID != "" {
		parent, ok := c.instances[args.ParentID]
		if !ok {
			c.mu.Unlock()
			return nil, fmt.Errorf("spawning under %s: %w", args.ParentID, ErrUnknownInstance)
		}
		if missionID == "" {
			missionID = parent.MissionID
		} else if missionID != parent.MissionID {
			c.mu.Unlock()
			return nil, ErrParentMismatch
		}
	} else if missionID != "" {
		if _, ok := c.missions[missionID]; !ok {
			c.mu.Unlock()
			return nil, fmt.Errorf("spawning into %s: %w", missionID, ErrUnknownMission)
		}
	}
	c.mu.Unlock()

	req := c.gate.RequestSpawn(approval.SpawnRequest{
		Role:          args.Role,
		MissionID:     missionID,
		ParentID:      args.ParentID,
		Justification: args.Justification,
	})
	c.emit(eventlog.TypeApprovalRequested, req.ID, map[string]any{
		"approval_id": req.ID,
		"kind":        string(approval.KindSpawn),
		"role":        args.Role,
		"mission_id":  missionID,
	})

	res, err := c.gate.Await(ctx, req.ID)
	if err != nil {
		if errors.Is(err, approval.ErrDenied) {
			c.emit(eventlog.TypeApprovalDenied, req.ID, map[string]any{
				"approval_id": req.ID,
				"reason":      res.Reason,
				"mission_id":  missionID,
			})
		}
		return nil, err
	}
	c.emit(eventlog.TypeApprovalGranted, req.ID, map[string]any{
		"approval_id": req.ID,
		"mission_id":  missionID,
	})

	c.mu.Lock()
	// The parent may have been cancelled while the approval was pending.
	if args.ParentID != "" {
		parent, ok := c.instances[args.ParentID]
		if !ok || parent.Status != InstanceRunning {
			c.mu.Unlock()
			return nil, fmt.Errorf("parent %s no longer running: %w", args.ParentID, ErrUnknownInstance)
		}
	}
	if missionID == "" {
		m := Mission{ID: uuid.NewString(), Goal: args.Goal, CreatedAt: time.Now().UTC()}
		c.missions[m.ID] = m
		c.mOrder = append(c.mOrder, m.ID)
		missionID = m.ID
	}
	inst := &Instance{
		ID:           uuid.NewString(),
		MissionID:    missionID,
		ParentID:     args.ParentID,
		Role:         args.Role,
		Status:       InstanceRunning,
		Budget:       args.Budget,
		Capabilities: args.Capabilities,
		CreatedAt:    time.Now().UTC(),
	}
	c.instances[inst.ID] = inst
	c.order = append(c.order, inst.ID)
	c.persistLocked()
	c.mu.Unlock()

	c.emit(eventlog.TypeInstanceSpawned, inst.ID, map[string]any{
		"instance_id": inst.ID,
		"mission_id":  missionID,
		"parent_id":   args.ParentID,
		"role":        args.Role,
	})
	c.log.Info("instance spawned", map[string]interface{}{
		"instance_id": inst.ID,
		"mission_id":  missionID,
		"role":        args.Role,
	})
	snapshot := *inst
	return &snapshot, nil
}

// Instance returns a copy of one instance.
func (c *Coordinator) Instance(id string) (Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.instances[id]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// Instances lists a mission's instances in spawn order.
func (c *Coordinator) Instances(missionID string) []Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Instance
	for _, id := range c.order {
		if inst := c.instances[id]; inst.MissionID == missionID {
			out = append(out, *inst)
		}
	}
	return out
}

// RecordUsage adds a usage delta to one instance and its budget.
func (c *Coordinator) RecordUsage(id string, delta Usage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.instances[id]
	if !ok {
		return fmt.Errorf("recording usage for %s: %w", id, ErrUnknownInstance)
	}
	inst.Usage.Tokens += delta.Tokens
	inst.Usage.ToolCalls += delta.ToolCalls
	inst.Usage.Steps += delta.Steps
	inst.Usage.CostUSD += delta.CostUSD
	inst.Budget = inst.Budget.Record(budget.Delta{Tokens: delta.Tokens})
	c.persistLocked()
	return nil
}

// Finish moves a running instance to completed or failed.
func (c *Coordinator) Finish(id string, status InstanceStatus, reason string) error {
	if status != InstanceCompleted && status != InstanceFailed {
		return fmt.Errorf("finish does not accept status %q", status)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.instances[id]
	if !ok {
		return fmt.Errorf("finishing %s: %w", id, ErrUnknownInstance)
	}
	if inst.Status != InstanceRunning {
		return fmt.Errorf("instance %s already %s", id, inst.Status)
	}
	inst.Status = status
	inst.StatusReason = reason
	c.persistLocked()
	return nil
}

// CancelInstance cancels one instance and its subtree, children before the
// parent. Already terminal instances are left untouched.
func (c *Coordinator) CancelInstance(id, reason string) error {
	c.mu.Lock()
	inst, ok := c.instances[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("cancelling %s: %w", id, ErrUnknownInstance)
	}
	cancelled := c.cancelSubtree(inst, reason)
	c.persistLocked()
	c.mu.Unlock()

	for _, cid := range cancelled {
		c.emit(eventlog.TypeInstanceCancelled, cid, map[string]any{
			"instance_id": cid,
			"mission_id":  inst.MissionID,
			"reason":      reason,
		})
	}
	return nil
}

// CancelMission cancels every instance in the mission's tree, each subtree
// children first, then records the mission cancellation itself.
func (c *Coordinator) CancelMission(missionID, reason string) error {
	c.mu.Lock()
	if _, ok := c.missions[missionID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("cancelling mission %s: %w", missionID, ErrUnknownMission)
	}
	var cancelled []string
	for _, id := range c.order {
		inst := c.instances[id]
		if inst.MissionID == missionID && inst.ParentID == "" {
			cancelled = append(cancelled, c.cancelSubtree(inst, reason)...)
		}
	}
	c.persistLocked()
	c.mu.Unlock()

	for _, cid := range cancelled {
		c.emit(eventlog.TypeInstanceCancelled, cid, map[string]any{
			"instance_id": cid,
			"mission_id":  missionID,
			"reason":      reason,
		})
	}
	c.emit(eventlog.TypeMissionCancelled, missionID, map[string]any{
		"mission_id": missionID,
		"reason":     reason,
	})
	c.log.Info("mission cancelled", map[string]interface{}{
		"mission_id": missionID,
		"instances":  len(cancelled),
	})
	return nil
}

// cancelSubtree cancels inst's descendants depth first, then inst, and
// returns the cancelled ids in that order. Caller holds the lock.
func (c *Coordinator) cancelSubtree(inst *Instance, reason string) []string {
	var cancelled []string
	for _, id := range c.order {
		child := c.instances[id]
		if child.ParentID == inst.ID {
			cancelled = append(cancelled, c.cancelSubtree(child, reason)...)
		}
	}
	if inst.Status == InstanceRunning {
		inst.Status = InstanceCancelled
		inst.StatusReason = reason
		cancelled = append(cancelled, inst.ID)
	}
	return cancelled
}

// Aggregate derives mission totals from its instances.
func (c *Coordinator) Aggregate(missionID string) (Aggregates, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.missions[missionID]; !ok {
		return Aggregates{}, fmt.Errorf("aggregating mission %s: %w", missionID, ErrUnknownMission)
	}
	var agg Aggregates
	for _, id := range c.order {
		inst := c.instances[id]
		if inst.MissionID != missionID {
			continue
		}
		agg.Instances++
		switch inst.Status {
		case InstanceRunning:
			agg.Running++
		case InstanceCompleted:
			agg.Completed++
		case InstanceFailed:
			agg.Failed++
		case InstanceCancelled:
			agg.Cancelled++
		}
		agg.Tokens += inst.Usage.Tokens
		agg.ToolCalls += inst.Usage.ToolCalls
		agg.Steps += inst.Usage.Steps
		agg.CostUSD += inst.Usage.CostUSD
	}
	return agg, nil
}
