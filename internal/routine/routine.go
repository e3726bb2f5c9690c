// Package routine schedules recurring runs from persisted YAML specs. A
// routine is a thin trigger: on each tick it creates a run through the same
// service API an operator would use, so routine runs carry the full
// approval and budget flow.
package routine

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/conductor/internal/budget"
)

// ErrUnknownRoutine is returned for operations against an unknown id.
var ErrUnknownRoutine = errors.New("unknown routine")

// BudgetOverrides narrows the default run budget for routine-created runs.
// Zero fields keep the configured default.
type BudgetOverrides struct {
	MaxIterations   uint32 `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	MaxTokens       uint64 `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	MaxWallTimeSecs uint64 `yaml:"max_wall_time_secs,omitempty" json:"max_wall_time_secs,omitempty"`
	MaxSubAgentRuns uint32 `yaml:"max_subagent_runs,omitempty" json:"max_subagent_runs,omitempty"`
}

// Apply folds the overrides over a default budget.
func (o *BudgetOverrides) Apply(def budget.Budget) budget.Budget {
	if o == nil {
		return def
	}
	b := def
	if o.MaxIterations > 0 {
		b.MaxIterations = o.MaxIterations
	}
	if o.MaxTokens > 0 {
		b.MaxTokens = o.MaxTokens
	}
	if o.MaxWallTimeSecs > 0 {
		b.MaxWallTimeSecs = o.MaxWallTimeSecs
	}
	if o.MaxSubAgentRuns > 0 {
		b.MaxSubAgentRuns = o.MaxSubAgentRuns
	}
	return b
}

// Spec is one persisted routine definition, stored as <id>.yaml in the
// routine directory.
type Spec struct {
	ID        string           `yaml:"id" json:"id"`
	Name      string           `yaml:"name" json:"name"`
	Objective string           `yaml:"objective" json:"objective"`
	Interval  string           `yaml:"interval" json:"interval"`
	Enabled   bool             `yaml:"enabled" json:"enabled"`
	Budget    *BudgetOverrides `yaml:"budget,omitempty" json:"budget,omitempty"`
}

// Validate checks a spec before it is scheduled or persisted.
func (s Spec) Validate() error {
	if s.ID == "" {
		return errors.New("routine id is required")
	}
	if s.Objective == "" {
		return fmt.Errorf("routine %s: objective is required", s.ID)
	}
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return fmt.Errorf("routine %s: bad interval %q: %w", s.ID, s.Interval, err)
	}
	if d <= 0 {
		return fmt.Errorf("routine %s: interval must be positive", s.ID)
	}
	return nil
}

// IntervalDuration returns the parsed tick interval. Validate first.
func (s Spec) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(s.Interval)
	return d
}

// Patch updates selected spec fields. Nil pointers leave fields unchanged.
type Patch struct {
	Name      *string          `json:"name,omitempty"`
	Objective *string          `json:"objective,omitempty"`
	Interval  *string          `json:"interval,omitempty"`
	Enabled   *bool            `json:"enabled,omitempty"`
	Budget    *BudgetOverrides `json:"budget,omitempty"`
}

func (p Patch) apply(s Spec) Spec {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Objective != nil {
		s.Objective = *p.Objective
	}
	if p.Interval != nil {
		s.Interval = *p.Interval
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.Budget != nil {
		s.Budget = p.Budget
	}
	return s
}

// RoutineRun links one trigger firing to the run it created.
type RoutineRun struct {
	RoutineID string    `json:"routine_id"`
	RunID     string    `json:"run_id"`
	FiredAt   time.Time `json:"fired_at"`
	Error     string    `json:"error,omitempty"`
}

func decodeSpec(data []byte) (Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Spec{}, fmt.Errorf("decoding routine spec: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

func encodeSpec(s Spec) ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding routine spec: %w", err)
	}
	return data, nil
}
