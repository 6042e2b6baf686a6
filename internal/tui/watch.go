package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/agentk-dev/agentk/internal/session"
)

// SnapshotFunc loads the current session snapshot.
type SnapshotFunc func() (*session.Snapshot, error)

type snapshotMsg struct {
	snap *session.Snapshot
	err  error
}

type pollMsg struct{}

// WatchModel is the live session view behind `agentk watch`.
type WatchModel struct {
	fetch    SnapshotFunc
	interval time.Duration
	now      func() time.Time

	table   table.Model
	spinner spinner.Model
	snap    *session.Snapshot
	err     error
	width   int
}

// NewWatchModel creates a model that calls fetch every interval.
func NewWatchModel(fetch SnapshotFunc, interval time.Duration) WatchModel {
	if interval <= 0 {
		interval = time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = WarningStyle

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "", Width: 2},
			{Title: "Agent", Width: 16},
			{Title: "Status", Width: 12},
			{Title: "Task", Width: 24},
			{Title: "Updated", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(TitleStyle.GetForeground())
	t.SetStyles(styles)

	return WatchModel{
		fetch:    fetch,
		interval: interval,
		now:      time.Now,
		table:    t,
		spinner:  sp,
	}
}

// Init fetches the first snapshot and starts the spinner.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load())
}

func (m WatchModel) load() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		snap, err := fetch()
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m WatchModel) schedule() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })
}

// Update handles key presses, poll ticks and loaded snapshots.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyCtrlC, KeyQuit, KeyEsc:
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetHeight(max(4, msg.Height-8))
		return m, nil
	case pollMsg:
		return m, m.load()
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.table.SetRows(agentRows(msg.snap, m.now()))
		}
		return m, m.schedule()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the header, agent table and task counts.
func (m WatchModel) View() string {
	var b strings.Builder
	if m.snap == nil {
		b.WriteString(m.spinner.View() + " loading session...\n")
	} else {
		state := m.spinner.View() + " active"
		if m.snap.EndedAt != nil {
			state = DimStyle.Render("ended")
		}
		fmt.Fprintf(&b, "%s %s  %s  %s\n\n", TitleStyle.Render("agentk"), m.snap.ID, m.snap.Mode, state)
		b.WriteString(BoxStyle.Render(m.table.View()) + "\n")
		b.WriteString(taskLine(m.snap.Tasks) + "\n")
	}
	if m.err != nil {
		b.WriteString(ErrorStyle.Render("error: "+m.err.Error()) + "\n")
	}
	b.WriteString(StatusBarStyle.Render("q quit  ↑/↓ scroll"))
	return b.String()
}

func agentRows(snap *session.Snapshot, now time.Time) []table.Row {
	if snap == nil {
		return nil
	}
	rows := make([]table.Row, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		age := ""
		if a.UpdatedAt != nil {
			age = FormatAge(now.Sub(*a.UpdatedAt))
		}
		rows = append(rows, table.Row{Icon(a.Status, false), a.Name, a.Status, a.Message, age})
	}
	return rows
}

func taskLine(counts map[string]int) string {
	if len(counts) == 0 {
		return DimStyle.Render("no tasks")
	}
	keys := make([]string, 0, len(counts))
	for _, st := range taskOrder {
		if counts[string(st)] > 0 {
			keys = append(keys, string(st))
		}
	}
	var extra []string
	for k := range counts {
		if !containsStatus(k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %d %s", Icon(k, true), counts[k], k))
	}
	return strings.Join(parts, "  ")
}

func containsStatus(s string) bool {
	for _, st := range taskOrder {
		if string(st) == s {
			return true
		}
	}
	return false
}
