package run

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/conductor/internal/approval"
	"github.com/vinayprograms/conductor/internal/blackboard"
	"github.com/vinayprograms/conductor/internal/budget"
	"github.com/vinayprograms/conductor/internal/checkpoint"
	"github.com/vinayprograms/conductor/internal/config"
	"github.com/vinayprograms/conductor/internal/eventlog"
	"github.com/vinayprograms/conductor/internal/graph"
	"github.com/vinayprograms/conductor/internal/mission"
	"github.com/vinayprograms/conductor/internal/planner"
	"github.com/vinayprograms/conductor/internal/stream"
)

// ErrUnknownRun is returned for operations against an unregistered run id.
var ErrUnknownRun = errors.New("unknown run")

// Service is the orchestrator's front door: it owns the stores, the shared
// admission permits, the approval gate and the mission coordinator, and
// hands out one Engine per run.
type Service struct {
	cfg      *config.Config
	runs     *Store
	events   *eventlog.Store
	cps      *checkpoint.Store
	boards   *blackboard.Store
	gate     *approval.Gate
	journal  *approval.Journal
	missions *mission.Coordinator
	pub      stream.Publisher
	admit    *graph.Admitter
	planner  *planner.Planner
	exec     TaskExecutor
	llog     *logging.Logger

	mu      sync.Mutex
	engines map[string]*Engine
	order   []string
}

// NewService builds a service rooted at the configured storage path.
func NewService(cfg *config.Config, provider llm.Provider, exec TaskExecutor) (*Service, error) {
	dir := cfg.StoragePath()
	runs, err := NewStore(dir)
	if err != nil {
		return nil, err
	}
	events, err := eventlog.NewStore(dir)
	if err != nil {
		return nil, err
	}
	cps, err := checkpoint.NewStore(dir)
	if err != nil {
		return nil, err
	}
	boards, err := blackboard.NewStore(dir)
	if err != nil {
		return nil, err
	}
	pub, err := stream.New(cfg.Stream.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting event stream: %w", err)
	}

	orch := cfg.Orchestrator
	admit := graph.NewAdmitter(int64(orch.MaxParallelTasks), map[graph.ResourceClass]int64{
		graph.ClassLLM:     int64(orch.LLMParallel),
		graph.ClassFSWrite: int64(orch.FSWriteParallel),
		graph.ClassShell:   int64(orch.ShellParallel),
		graph.ClassNetwork: int64(orch.NetworkParallel),
	})
	gate := approval.NewGate()
	journal, err := approval.NewJournal(dir)
	if err != nil {
		return nil, err
	}
	gate.SetJournal(journal)

	if len(orch.ApprovalClasses) > 0 {
		classes := make([]graph.ResourceClass, 0, len(orch.ApprovalClasses))
		for _, c := range orch.ApprovalClasses {
			classes = append(classes, graph.ResourceClass(c))
		}
		exec = NewGatedExecutor(exec, gate, classes)
	}

	missions := mission.NewCoordinator(gate, pub, nil)
	mstore, err := mission.NewStore(dir)
	if err != nil {
		return nil, err
	}
	if err := missions.AttachStore(mstore); err != nil {
		return nil, fmt.Errorf("loading mission registry: %w", err)
	}

	return &Service{
		cfg:      cfg,
		runs:     runs,
		events:   events,
		cps:      cps,
		boards:   boards,
		gate:     gate,
		journal:  journal,
		missions: missions,
		pub:      pub,
		admit:    admit,
		planner:  planner.New(provider, cfg.Planner.Strict),
		exec:     exec,
		llog:     logging.New().WithComponent("service"),
		engines:  make(map[string]*Engine),
	}, nil
}

// Gate exposes the approval gate for operator surfaces.
func (s *Service) Gate() *approval.Gate {
	return s.gate
}

// Missions exposes the mission coordinator.
func (s *Service) Missions() *mission.Coordinator {
	return s.missions
}

// CreateRun registers a new queued run. A nil budget takes the configured
// default caps.
func (s *Service) CreateRun(objective, model string, b *budget.Budget) (*Engine, error) {
	if objective == "" {
		return nil, errors.New("objective is required")
	}
	runBudget := s.defaultBudget()
	if b != nil {
		runBudget = *b
	}

	r := Run{Objective: objective, Model: model}
	eng := NewEngine(Options{
		Run:          r,
		Budget:       runBudget,
		Checkpoints:  s.cps,
		Board:        s.boards,
		Store:        s.runs,
		Planner:      s.planner,
		Executor:     s.exec,
		Admitter:     s.admit,
		Orchestrator: s.cfg.Orchestrator,
		Publisher:    s.pub,
	})
	eng.log = eventlog.New(eng.run.ID, s.events.ForRun(eng.run.ID))

	eng.mu.Lock()
	eng.emit(eventlog.TypeRunCreated, "", map[string]any{"objective": objective})
	eng.persist()
	eng.mu.Unlock()

	s.mu.Lock()
	s.engines[eng.run.ID] = eng
	s.order = append(s.order, eng.run.ID)
	s.mu.Unlock()

	s.llog.Info("run created", map[string]interface{}{
		"run_id":    eng.run.ID,
		"objective": objective,
	})
	return eng, nil
}

func (s *Service) defaultBudget() budget.Budget {
	bc := s.cfg.Budget
	return budget.New(bc.MaxIterations, bc.MaxTokens, bc.MaxWallTimeSecs, bc.MaxSubAgentRuns)
}

// Engine returns the engine for a run id, loading persisted state for runs
// created by a previous process.
func (s *Service) Engine(runID string) (*Engine, error) {
	s.mu.Lock()
	eng, ok := s.engines[runID]
	s.mu.Unlock()
	if ok {
		return eng, nil
	}
	return s.revive(runID)
}

// revive rebuilds an engine from disk. The event log sequence continues
// from the persisted tail.
func (s *Service) revive(runID string) (*Engine, error) {
	r, tasks, b, err := s.runs.Load(runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	events, err := s.events.Load(runID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("loading events for %s: %w", runID, err)
	}

	eng := NewEngine(Options{
		Run:          r,
		Budget:       b,
		Checkpoints:  s.cps,
		Board:        s.boards,
		Store:        s.runs,
		Planner:      s.planner,
		Executor:     s.exec,
		Admitter:     s.admit,
		Orchestrator: s.cfg.Orchestrator,
		Publisher:    s.pub,
	})
	eng.tasks = tasks
	log := eventlog.New(runID, s.events.ForRun(runID))
	if err := log.Restore(events); err != nil {
		// A gap is surfaced, never silently skipped; the log continues from
		// the highest persisted sequence.
		eng.llog.Error("event log gap detected", map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		})
		log = eventlog.New(runID, s.events.ForRun(runID))
		log.Restore(trimToGapless(events))
		eng.log = log
		eng.mu.Lock()
		eng.emit(eventlog.TypeLogGap, "", map[string]any{"why": err.Error()})
		eng.mu.Unlock()
	} else {
		eng.log = log
	}

	// In-progress attempts from the dead process cannot be resumed.
	for i := range eng.tasks {
		if eng.tasks[i].State == graph.TaskInProgress {
			eng.tasks[i].State = graph.TaskPending
		}
	}
	if eng.run.Status == StatusExecuting {
		eng.run.Status = StatusPaused
	}

	s.mu.Lock()
	if existing, ok := s.engines[runID]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.engines[runID] = eng
	s.order = append(s.order, runID)
	s.mu.Unlock()
	return eng, nil
}

// trimToGapless keeps the longest gapless prefix of an event sequence.
func trimToGapless(events []eventlog.Event) []eventlog.Event {
	var out []eventlog.Event
	var want uint64 = 1
	for _, ev := range events {
		if ev.Seq != want {
			break
		}
		out = append(out, ev)
		want++
	}
	return out
}

// List summarizes registered runs in creation order.
func (s *Service) List() []Summary {
	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		s.mu.Lock()
		eng, ok := s.engines[id]
		s.mu.Unlock()
		if ok {
			out = append(out, eng.Summary())
		}
	}
	return out
}

// Spawn requests a new agent instance on behalf of a run and charges the
// run's sub-agent budget once the instance exists.
func (s *Service) Spawn(ctx context.Context, runID string, args mission.SpawnArgs) (*mission.Instance, error) {
	eng, err := s.Engine(runID)
	if err != nil {
		return nil, err
	}
	inst, err := s.missions.Spawn(ctx, args)
	if err != nil {
		return nil, err
	}
	eng.RecordSpawn()
	return inst, nil
}

// LaunchRoutineRun creates and starts a run on behalf of a routine trigger.
// Routine runs carry the same approval flow as operator-created ones.
func (s *Service) LaunchRoutineRun(ctx context.Context, routineID, objective string, b *budget.Budget) (string, error) {
	eng, err := s.CreateRun(objective, "", b)
	if err != nil {
		return "", err
	}
	eng.mu.Lock()
	eng.run.RoutineID = routineID
	eng.mu.Unlock()
	if err := eng.Start(ctx); err != nil {
		return eng.ID(), err
	}
	return eng.ID(), nil
}

// ResolveApproval settles a pending spawn or tool approval.
func (s *Service) ResolveApproval(id string, approved bool, reason string) (approval.Resolution, error) {
	return s.gate.Resolve(id, approved, reason)
}

// ResolveToolCall settles a pending tool approval by session and call id.
func (s *Service) ResolveToolCall(sessionID, callID string, approved bool, reason string) (approval.Resolution, error) {
	return s.gate.ResolveCall(sessionID, callID, approved, reason)
}

// LookupApproval returns one journalled approval and its resolution, if
// settled.
func (s *Service) LookupApproval(id string) (approval.Approval, *approval.Resolution, error) {
	return s.journal.Lookup(id)
}

// Subscribe returns an ordered per-run event subscription.
func (s *Service) Subscribe(runID string, buffer int) (*eventlog.Subscription, error) {
	eng, err := s.Engine(runID)
	if err != nil {
		return nil, err
	}
	return eng.log.Subscribe(buffer), nil
}

// Events loads a run's persisted events.
func (s *Service) Events(runID string, sinceSeq uint64, tail int) ([]eventlog.Event, error) {
	return s.events.Load(runID, sinceSeq, tail)
}

// Close releases external resources.
func (s *Service) Close() {
	s.pub.Close()
}
