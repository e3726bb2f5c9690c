// Package budget tracks resource consumption against run and instance caps.
package budget

import "fmt"

// Budget pairs consumption counters with their caps. One Budget exists per
// run and one per spawned instance. All methods are pure accounting; the
// owner is responsible for locking.
type Budget struct {
	MaxIterations   uint32 `json:"max_iterations"`
	IterationsUsed  uint32 `json:"iterations_used"`
	MaxTokens       uint64 `json:"max_tokens"`
	TokensUsed      uint64 `json:"tokens_used"`
	MaxWallTimeSecs uint64 `json:"max_wall_time_secs"`
	WallTimeSecs    uint64 `json:"wall_time_secs"`
	MaxSubAgentRuns uint32 `json:"max_subagent_runs"`
	SubAgentRuns    uint32 `json:"subagent_runs_used"`

	Exceeded       bool   `json:"exceeded"`
	ExceededReason string `json:"exceeded_reason,omitempty"`
}

// Delta is a single consumption increment.
type Delta struct {
	Iterations   uint32
	Tokens       uint64
	WallTimeSecs uint64
	SubAgentRuns uint32
}

// Extension raises caps. Zero fields leave the corresponding cap unchanged;
// caps are never lowered.
type Extension struct {
	Iterations   uint32
	Tokens       uint64
	WallTimeSecs uint64
	SubAgentRuns uint32
}

// New returns a budget with the given caps and zero consumption.
func New(maxIterations uint32, maxTokens uint64, maxWallTimeSecs uint64, maxSubAgentRuns uint32) Budget {
	return Budget{
		MaxIterations:   maxIterations,
		MaxTokens:       maxTokens,
		MaxWallTimeSecs: maxWallTimeSecs,
		MaxSubAgentRuns: maxSubAgentRuns,
	}
}

// CanAdmit reports whether new work may be admitted. False as soon as any
// dimension has reached its cap.
func (b Budget) CanAdmit() bool {
	return !b.Exceeded &&
		b.IterationsUsed < b.MaxIterations &&
		b.TokensUsed < b.MaxTokens &&
		b.WallTimeSecs < b.MaxWallTimeSecs &&
		b.SubAgentRuns < b.MaxSubAgentRuns
}

// Record adds consumption and recomputes the exceeded flag. Consumption is
// monotonically non-decreasing; already-admitted work is never invalidated.
func (b Budget) Record(d Delta) Budget {
	b.IterationsUsed += d.Iterations
	b.TokensUsed += d.Tokens
	b.WallTimeSecs += d.WallTimeSecs
	b.SubAgentRuns += d.SubAgentRuns
	b.recheck()
	return b
}

// Extend raises caps by the given deltas. When clearExceeded is set and the
// raised caps leave headroom again, the exceeded flag is cleared so the run
// can resume admission.
func (b Budget) Extend(e Extension, clearExceeded bool) Budget {
	b.MaxIterations += e.Iterations
	b.MaxTokens += e.Tokens
	b.MaxWallTimeSecs += e.WallTimeSecs
	b.MaxSubAgentRuns += e.SubAgentRuns
	if clearExceeded {
		b.Exceeded = false
		b.ExceededReason = ""
	}
	b.recheck()
	return b
}

// recheck sets the exceeded flag and a human-readable reason when any
// dimension is at or past its cap. The first exhausted dimension wins.
func (b *Budget) recheck() {
	switch {
	case b.IterationsUsed >= b.MaxIterations:
		b.Exceeded = true
		b.ExceededReason = fmt.Sprintf("iteration budget exhausted (%d/%d)", b.IterationsUsed, b.MaxIterations)
	case b.TokensUsed >= b.MaxTokens:
		b.Exceeded = true
		b.ExceededReason = fmt.Sprintf("token budget exhausted (%d/%d)", b.TokensUsed, b.MaxTokens)
	case b.WallTimeSecs >= b.MaxWallTimeSecs:
		b.Exceeded = true
		b.ExceededReason = fmt.Sprintf("wall time budget exhausted (%ds/%ds)", b.WallTimeSecs, b.MaxWallTimeSecs)
	case b.SubAgentRuns >= b.MaxSubAgentRuns:
		b.Exceeded = true
		b.ExceededReason = fmt.Sprintf("sub-agent run budget exhausted (%d/%d)", b.SubAgentRuns, b.MaxSubAgentRuns)
	}
}

// UsagePercent returns the fraction used (0.0-1.0) of the most-consumed
// dimension.
func (b Budget) UsagePercent() float64 {
	pct := func(used, max float64) float64 {
		if max <= 0 {
			return 1.0
		}
		return used / max
	}
	p := pct(float64(b.IterationsUsed), float64(b.MaxIterations))
	if v := pct(float64(b.TokensUsed), float64(b.MaxTokens)); v > p {
		p = v
	}
	if v := pct(float64(b.WallTimeSecs), float64(b.MaxWallTimeSecs)); v > p {
		p = v
	}
	if v := pct(float64(b.SubAgentRuns), float64(b.MaxSubAgentRuns)); v > p {
		p = v
	}
	return p
}
