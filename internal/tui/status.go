package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/agentk-dev/agentk/internal/session"
	"github.com/agentk-dev/agentk/internal/task"
)

// taskOrder is the order task counts are listed in.
var taskOrder = []task.Status{
	task.StatusPending,
	task.StatusInProgress,
	task.StatusCompleted,
	task.StatusFailed,
	task.StatusCancelled,
}

// StatusView is everything the status table shows. Snapshot may be nil
// when no session is active.
type StatusView struct {
	Snapshot *session.Snapshot
	Tasks    []*task.Task
	Now      time.Time
}

// RenderStatus writes the status table to w. Colors are used only when
// color is true; callers pass IsTTY().
func RenderStatus(w io.Writer, v StatusView, color bool) error {
	var b strings.Builder
	style := func(s string, st lipgloss.Style) string {
		if !color {
			return s
		}
		return st.Render(s)
	}

	if v.Snapshot == nil {
		b.WriteString(style("No active session", DimStyle) + "\n")
	} else {
		s := v.Snapshot
		state := "active"
		if s.EndedAt != nil {
			state = "ended"
		}
		fmt.Fprintf(&b, "%s %s (%s, %s)\n", style("Session", TitleStyle), s.ID, s.Mode, state)
		if !v.Now.IsZero() {
			fmt.Fprintf(&b, "%s\n", style("started "+FormatAge(v.Now.Sub(s.StartedAt))+" ago", DimStyle))
		}
		b.WriteString("\n")
		b.WriteString(style("Agents", TitleStyle) + "\n")
		width := 0
		for _, a := range s.Agents {
			width = max(width, len(a.Name))
		}
		for _, a := range s.Agents {
			line := fmt.Sprintf("  %s %-*s  %s", Icon(a.Status, color), width, a.Name, a.Status)
			if a.Message != "" {
				line += "  " + style(a.Message, DimStyle)
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(style("Tasks", TitleStyle) + "\n")
	counts := countTasks(v.Tasks)
	if v.Snapshot != nil && v.Tasks == nil {
		counts = v.Snapshot.Tasks
	}
	var parts []string
	for _, st := range taskOrder {
		if n := counts[string(st)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	if len(parts) == 0 {
		b.WriteString("  " + style("none", DimStyle) + "\n")
	} else {
		b.WriteString("  " + strings.Join(parts, ", ") + "\n")
	}

	if len(v.Tasks) > 0 {
		idWidth, agentWidth := 0, 0
		for _, t := range v.Tasks {
			idWidth = max(idWidth, len(t.ID))
			agentWidth = max(agentWidth, len(t.AssignedTo))
		}
		for _, t := range v.Tasks {
			line := fmt.Sprintf("  %s %-*s  %-*s  %s", Icon(string(t.Status), color), idWidth, t.ID, agentWidth, t.AssignedTo, t.Status)
			if len(t.Context.Dependencies) > 0 {
				line += "  " + style("after "+strings.Join(t.Context.Dependencies, ","), DimStyle)
			}
			b.WriteString(line + "\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func countTasks(tasks []*task.Task) map[string]int {
	counts := make(map[string]int)
	for _, t := range tasks {
		counts[string(t.Status)]++
	}
	return counts
}

// FormatAge renders d as a short age such as "42s", "5m" or "3h12m".
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dm", h, m)
	}
}
