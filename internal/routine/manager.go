package routine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/conductor/internal/budget"
)

// RunLauncher creates runs on behalf of routine triggers. run.Service
// satisfies this.
type RunLauncher interface {
	LaunchRoutineRun(ctx context.Context, routineID, objective string, b *budget.Budget) (string, error)
}

// Manager owns the routine registry: it persists specs as YAML files,
// keeps one ticker per enabled routine, and watches the spec directory so
// external edits take effect without a restart.
type Manager struct {
	dir           string
	launcher      RunLauncher
	defaultBudget budget.Budget
	log           *logging.Logger

	mu      sync.Mutex
	specs   map[string]Spec
	cancels map[string]context.CancelFunc
	runs    []RoutineRun

	watcher *fsnotify.Watcher
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager over the given spec directory.
func NewManager(dir string, launcher RunLauncher, defaultBudget budget.Budget) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating routine directory: %w", err)
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		dir:           dir,
		launcher:      launcher,
		defaultBudget: defaultBudget,
		log:           logging.New().WithComponent("routine"),
		specs:         make(map[string]Spec),
		cancels:       make(map[string]context.CancelFunc),
		ctx:           ctx,
		stop:          stop,
	}, nil
}

// Start loads persisted specs, schedules the enabled ones and begins
// watching the directory for edits.
func (m *Manager) Start() error {
	if err := m.loadAll(); err != nil {
		return err
	}
	if err := m.loadRuns(); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating routine watcher: %w", err)
	}
	if err := w.Add(m.dir); err != nil {
		w.Close()
		return fmt.Errorf("watching routine directory: %w", err)
	}
	m.watcher = w
	m.wg.Add(1)
	go m.watch()
	return nil
}

// Stop halts every ticker and the directory watcher.
func (m *Manager) Stop() {
	m.stop()
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = make(map[string]context.CancelFunc)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) specPath(id string) string {
	return filepath.Join(m.dir, id+".yaml")
}

func (m *Manager) loadAll() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("listing routine directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		if err := m.loadFile(filepath.Join(m.dir, e.Name())); err != nil {
			m.log.Warn("skipping bad routine spec", map[string]interface{}{
				"file":  e.Name(),
				"error": err.Error(),
			})
		}
	}
	return nil
}

// loadFile reads one spec file and (re)schedules it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	spec, err := decodeSpec(data)
	if err != nil {
		return err
	}
	m.install(spec)
	return nil
}

// install registers a spec and restarts its ticker to match.
func (m *Manager) install(spec Spec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[spec.ID]; ok {
		cancel()
		delete(m.cancels, spec.ID)
	}
	m.specs[spec.ID] = spec
	if !spec.Enabled {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancels[spec.ID] = cancel
	m.wg.Add(1)
	go m.tick(ctx, spec)
}

// uninstall drops a spec whose file was removed.
func (m *Manager) uninstall(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	delete(m.specs, id)
}

// tick fires the routine at its interval until cancelled.
func (m *Manager) tick(ctx context.Context, spec Spec) {
	defer m.wg.Done()
	ticker := time.NewTicker(spec.IntervalDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.fire(ctx, spec)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) fire(ctx context.Context, spec Spec) {
	b := spec.Budget.Apply(m.defaultBudget)
	runID, err := m.launcher.LaunchRoutineRun(ctx, spec.ID, spec.Objective, &b)
	rec := RoutineRun{RoutineID: spec.ID, RunID: runID, FiredAt: time.Now().UTC()}
	if err != nil {
		rec.Error = err.Error()
		m.log.Error("routine run failed to launch", map[string]interface{}{
			"routine_id": spec.ID,
			"error":      err.Error(),
		})
	} else {
		m.log.Info("routine fired", map[string]interface{}{
			"routine_id": spec.ID,
			"run_id":     runID,
		})
	}
	m.mu.Lock()
	m.runs = append(m.runs, rec)
	m.mu.Unlock()
	if err := m.appendRun(rec); err != nil {
		m.log.Warn("routine run record not persisted", map[string]interface{}{
			"routine_id": spec.ID,
			"error":      err.Error(),
		})
	}
}

func (m *Manager) runsPath() string {
	return filepath.Join(m.dir, "runs.jsonl")
}

// appendRun persists one firing record.
func (m *Manager) appendRun(rec RoutineRun) error {
	f, err := os.OpenFile(m.runsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening runs.jsonl: %w", err)
	}
	defer f.Close()
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding routine run: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing routine run: %w", err)
	}
	return nil
}

// loadRuns reads firing records persisted by earlier processes.
func (m *Manager) loadRuns() error {
	f, err := os.Open(m.runsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening runs.jsonl: %w", err)
	}
	defer f.Close()

	var runs []RoutineRun
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec RoutineRun
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decoding routine run: %w", err)
		}
		runs = append(runs, rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading runs.jsonl: %w", err)
	}
	m.mu.Lock()
	m.runs = append(runs, m.runs...)
	m.mu.Unlock()
	return nil
}

// watch reloads specs as their files change on disk.
func (m *Manager) watch() {
	defer m.wg.Done()
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".yaml") {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				id := strings.TrimSuffix(filepath.Base(ev.Name), ".yaml")
				m.uninstall(id)
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				if err := m.loadFile(ev.Name); err != nil {
					m.log.Warn("ignoring routine spec change", map[string]interface{}{
						"file":  ev.Name,
						"error": err.Error(),
					})
				}
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("routine watcher error", map[string]interface{}{"error": err.Error()})
		case <-m.ctx.Done():
			return
		}
	}
}

// Create validates, persists and schedules a new routine.
func (m *Manager) Create(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	data, err := encodeSpec(spec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.specPath(spec.ID), data, 0644); err != nil {
		return fmt.Errorf("writing routine spec: %w", err)
	}
	m.install(spec)
	return nil
}

// Update applies a patch to an existing routine, persists it and
// reschedules.
func (m *Manager) Update(id string, p Patch) (Spec, error) {
	m.mu.Lock()
	spec, ok := m.specs[id]
	m.mu.Unlock()
	if !ok {
		return Spec{}, fmt.Errorf("patching routine %s: %w", id, ErrUnknownRoutine)
	}
	next := p.apply(spec)
	if err := next.Validate(); err != nil {
		return Spec{}, err
	}
	data, err := encodeSpec(next)
	if err != nil {
		return Spec{}, err
	}
	if err := os.WriteFile(m.specPath(id), data, 0644); err != nil {
		return Spec{}, fmt.Errorf("writing routine spec: %w", err)
	}
	m.install(next)
	return next, nil
}

// Specs lists registered routines.
func (m *Manager) Specs() []Spec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Spec, 0, len(m.specs))
	for _, s := range m.specs {
		out = append(out, s)
	}
	return out
}

// Get returns one routine spec.
func (m *Manager) Get(id string) (Spec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.specs[id]
	return s, ok
}

// Runs lists trigger firings, optionally filtered by routine id.
func (m *Manager) Runs(routineID string) []RoutineRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RoutineRun
	for _, r := range m.runs {
		if routineID == "" || r.RoutineID == routineID {
			out = append(out, r)
		}
	}
	return out
}
