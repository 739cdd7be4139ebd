// Package tui implements "agentlock watch", a live dashboard of file locks
// and agent sessions built on Bubble Tea.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gren-lsp/agentlock/internal/ui"
)

// Snapshot is one refresh of the dashboard.
type Snapshot struct {
	Project string
	Locks   ui.Table
	Agents  ui.Table
	Expired int
}

// Source loads a fresh snapshot.
type Source func(ctx context.Context) (Snapshot, error)

// KeyMap defines the dashboard key bindings.
type KeyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

// DefaultKeyMap provides the default key bindings.
var DefaultKeyMap = KeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)
)

type snapshotMsg struct {
	snap Snapshot
	err  error
	at   time.Time
}

type tickMsg time.Time

// Model is the dashboard state.
type Model struct {
	ctx      context.Context
	source   Source
	interval time.Duration
	keys     KeyMap

	snap    Snapshot
	err     error
	updated time.Time
	loaded  bool
	width   int
}

// NewModel creates a dashboard that reloads from source every interval.
func NewModel(ctx context.Context, source Source, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{ctx: ctx, source: source, interval: interval, keys: DefaultKeyMap}
}

// Init loads the first snapshot and starts the refresh timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick())
}

func (m Model) load() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.source(m.ctx)
		return snapshotMsg{snap: snap, err: err, at: time.Now()}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles key presses, timer ticks and loaded snapshots.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.load()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(m.load(), m.tick())
	case snapshotMsg:
		m.updated = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.loaded = true
		}
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("agentlock watch"))
	if m.snap.Project != "" {
		b.WriteString(dimStyle.Render("  " + m.snap.Project))
	}
	b.WriteString("\n\n")

	if !m.loaded && m.err == nil {
		b.WriteString(dimStyle.Render("Loading..."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(section(fmt.Sprintf("Locks (%d, %d expired)", len(m.snap.Locks.Rows), m.snap.Expired), m.snap.Locks, "No locks held."))
	b.WriteString("\n")
	b.WriteString(section(fmt.Sprintf("Agents (%d)", len(m.snap.Agents.Rows)), m.snap.Agents, "No agents recorded."))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("refresh failed: " + m.err.Error()))
		b.WriteString("\n")
	}
	status := fmt.Sprintf("updated %s  ·  %s  %s",
		m.updated.Format("15:04:05"),
		m.keys.Refresh.Help().Key+" "+m.keys.Refresh.Help().Desc,
		m.keys.Quit.Help().Key+" "+m.keys.Quit.Help().Desc)
	b.WriteString(dimStyle.Render(status))
	b.WriteString("\n")
	return b.String()
}

func section(title string, t ui.Table, empty string) string {
	body := empty
	if len(t.Rows) > 0 {
		body = strings.TrimRight(t.Plain(), "\n")
	}
	return titleStyle.Render(title) + "\n" + boxStyle.Render(body) + "\n"
}

// Run shows the dashboard on a terminal until the user quits or ctx ends.
// Without a terminal it prints a single snapshot instead.
func Run(ctx context.Context, source Source, interval time.Duration, in io.Reader, out io.Writer) error {
	if !ui.IsTerminal(out) {
		return printOnce(ctx, source, out)
	}
	p := tea.NewProgram(NewModel(ctx, source, interval),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func printOnce(ctx context.Context, source Source, out io.Writer) error {
	snap, err := source(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Locks (%d, %d expired)\n", len(snap.Locks.Rows), snap.Expired)
	if len(snap.Locks.Rows) > 0 {
		fmt.Fprint(out, snap.Locks.Plain())
	}
	fmt.Fprintf(out, "\nAgents (%d)\n", len(snap.Agents.Rows))
	if len(snap.Agents.Rows) > 0 {
		fmt.Fprint(out, snap.Agents.Plain())
	}
	return nil
}
