package tui

// Live terminal dashboard over open sessions' diagnostics.

import (
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tturner/cipsession/internal/session"
)

// Model renders a periodically refreshed table of session diagnostics.
type Model struct {
	orch    *session.Orchestrator
	styles  Styles
	rows    []session.Diagnostics
	width   int
	height  int
	err     string
	refresh time.Duration
}

// NewModel creates a dashboard over the orchestrator's session table.
func NewModel(orch *session.Orchestrator) *Model {
	return &Model{
		orch:    orch,
		styles:  DefaultStyles,
		refresh: time.Second,
	}
}

type tickMsg time.Time

func (m *Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	m.reload()
	return m.tickCmd()
}

func (m *Model) reload() {
	ids := m.orch.Sessions()
	sort.Strings(ids)

	rows := make([]session.Diagnostics, 0, len(ids))
	for _, id := range ids {
		diag, err := m.orch.Diagnostics(id)
		if err != nil {
			continue
		}
		rows = append(rows, diag)
	}
	m.rows = rows
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.reload()
		return m, m.tickCmd()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.reload()
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	header := m.styles.Title.Render("CIP Sessions")
	help := m.styles.Dim.Render("r refresh · q quit")

	if len(m.rows) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, header, m.styles.Dim.Render("no open sessions"), help)
	}

	lines := []string{m.styles.TableHeader.Render(fmt.Sprintf(
		"%-34s %-21s %-10s %-6s %-10s %s",
		"SESSION", "ENDPOINT", "STATE", "SEQ", "STATUS", "LAST ACTIVITY"))}

	for _, row := range m.rows {
		state := "registered"
		stateStyle := m.styles.Warn
		if row.Connection.Connected {
			state = "connected"
			stateStyle = m.styles.Good
		}
		status := "0x00"
		statusStyle := m.styles.Good
		if row.Connection.LastStatus.General != 0 {
			status = fmt.Sprintf("0x%02X", row.Connection.LastStatus.General)
			statusStyle = m.styles.Bad
		}
		lines = append(lines, fmt.Sprintf(
			"%-34s %-21s %-10s %-6d %-10s %s",
			row.SessionID,
			fmt.Sprintf("%s:%d", row.Host, row.Port),
			stateStyle.Render(state),
			row.Connection.Sequence,
			statusStyle.Render(status),
			row.LastActivity.Format("15:04:05"),
		))
	}

	body := lipgloss.JoinVertical(lipgloss.Left, lines...)
	if m.err != "" {
		body = lipgloss.JoinVertical(lipgloss.Left, body, m.styles.Bad.Render(m.err))
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, m.styles.Panel.Render(body), help)
}

// Run starts the dashboard in the alternate screen.
func Run(orch *session.Orchestrator) error {
	program := tea.NewProgram(NewModel(orch), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
