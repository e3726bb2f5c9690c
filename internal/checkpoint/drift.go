package checkpoint

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// Drift is the result of comparing a replayed projection against live
// state. Drift is surfaced to operators and never auto-corrected: it means
// either the event log missed a transition or the replay fold is
// non-deterministic, and both need a human.
type Drift struct {
	StatusMismatch    bool `json:"status_mismatch"`
	RationaleMismatch bool `json:"rationale_mismatch"`
	TaskCountMismatch bool `json:"task_count_mismatch"`
	Mismatch          bool `json:"mismatch"`

	LiveStatus        string `json:"live_status"`
	ReplayedStatus    string `json:"replayed_status"`
	LiveRationale     string `json:"live_rationale,omitempty"`
	ReplayedRationale string `json:"replayed_rationale,omitempty"`
	LiveTaskCount     int    `json:"live_task_count"`
	ReplayedTaskCount int    `json:"replayed_task_count"`
}

// Compare checks live against replayed along the three independent flags.
func Compare(live, replayed Projection) Drift {
	d := Drift{
		StatusMismatch:    live.Status != replayed.Status,
		RationaleMismatch: live.Rationale != replayed.Rationale,
		TaskCountMismatch: live.TaskCount != replayed.TaskCount,
		LiveStatus:        live.Status,
		ReplayedStatus:    replayed.Status,
		LiveRationale:     live.Rationale,
		ReplayedRationale: replayed.Rationale,
		LiveTaskCount:     live.TaskCount,
		ReplayedTaskCount: replayed.TaskCount,
	}
	d.Mismatch = d.StatusMismatch || d.RationaleMismatch || d.TaskCountMismatch
	return d
}

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	driftStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Format renders a drift report for operator inspection.
func (d Drift) Format(width int) string {
	if width <= 0 {
		width = 80
	}
	var b strings.Builder
	b.WriteString(headStyle.Render("Replay drift report"))
	b.WriteString("\n\n")

	if !d.Mismatch {
		b.WriteString(okStyle.Render("no drift: replayed projection matches live state"))
		b.WriteString("\n")
		return b.String()
	}

	line := func(label string, mismatch bool, live, replayed string) {
		marker := okStyle.Render("match")
		if mismatch {
			marker = driftStyle.Render("DRIFT")
		}
		b.WriteString(fmt.Sprintf("%-12s %s\n", label, marker))
		if mismatch {
			detail := fmt.Sprintf("live: %s\nreplayed: %s", live, replayed)
			b.WriteString(dimStyle.Render(wordwrap.String(detail, width-4)))
			b.WriteString("\n")
		}
	}

	line("status", d.StatusMismatch, d.LiveStatus, d.ReplayedStatus)
	line("rationale", d.RationaleMismatch, d.LiveRationale, d.ReplayedRationale)
	line("task count", d.TaskCountMismatch,
		fmt.Sprintf("%d", d.LiveTaskCount), fmt.Sprintf("%d", d.ReplayedTaskCount))
	return b.String()
}
