// Package tui renders a live terminal monitor over a workspace: the
// orchestrator's aggregate status plus every discovered session, refreshed
// from the persisted state files. It is read-only; closing the monitor never
// touches running sessions.
package tui

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/casewise/ccc/internal/config"
	"github.com/casewise/ccc/internal/orchestrator"
	"github.com/casewise/ccc/internal/session"
	"github.com/casewise/ccc/internal/util"
)

const refreshInterval = time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	statusStyles = map[session.Status]lipgloss.Style{
		session.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		session.StatusStarting:   lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		session.StatusRunning:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		session.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		session.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		session.StatusTerminated: lipgloss.NewStyle().Foreground(lipgloss.Color("133")),
	}
)

type tickMsg time.Time

type dataMsg struct {
	state    *orchestrator.State
	sessions []*session.State
	err      error
}

// Model is the bubbletea model for the workspace monitor.
type Model struct {
	root    string
	spinner spinner.Model

	state    *orchestrator.State
	sessions []*session.State
	loadErr  error
	width    int
}

// New creates a monitor model for a workspace root.
func New(root string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	return Model{root: root, spinner: sp, width: 80}
}

// Run starts the monitor and blocks until the user quits.
func Run(root string) error {
	_, err := tea.NewProgram(New(root), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, reload(m.root), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// reload re-reads the persisted orchestrator state and session files.
func reload(root string) tea.Cmd {
	return func() tea.Msg {
		var msg dataMsg
		st, err := orchestrator.LoadState(config.StateFile(root), 0, 0)
		switch {
		case err == nil:
			msg.state = st
		case errors.Is(err, os.ErrNotExist):
			// No orchestrator has run here yet; sessions may still exist.
		default:
			msg.err = err
		}

		sessions, err := session.Discover(config.SessionsDir(root))
		if err != nil && msg.err == nil {
			msg.err = err
		}
		msg.sessions = sessions
		return msg
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, reload(m.root)
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(reload(m.root), tick())
	case dataMsg:
		m.state = msg.state
		m.sessions = msg.sessions
		m.loadErr = msg.err
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	out := titleStyle.Render("ccc monitor") + " " + m.spinner.View() + "\n\n"

	if m.loadErr != nil {
		out += errorStyle.Render(fmt.Sprintf("error: %v", m.loadErr)) + "\n\n"
	}

	if m.state != nil {
		out += fmt.Sprintf("orchestrator %s  uptime %s\n",
			m.state.OrchestratorID,
			time.Since(m.state.StartedAt).Round(time.Second))
		if m.state.CurrentWorkflow != "" {
			out += fmt.Sprintf("workflow: %s\n", m.state.CurrentWorkflow)
		}
		out += fmt.Sprintf("sessions: %d active  %d completed  %d failed\n\n",
			len(m.state.ActiveSessions),
			len(m.state.CompletedSessions),
			len(m.state.FailedSessions))
	}

	if len(m.sessions) == 0 {
		out += dimStyle.Render("no sessions") + "\n"
	}
	for _, st := range m.sessions {
		style, ok := statusStyles[st.Status]
		if !ok {
			style = dimStyle
		}
		row := fmt.Sprintf("%-30s %-11s %3d%%  %s",
			st.SessionID, st.Status, st.ProgressPercent, st.CurrentActivity)
		out += style.Render(util.TruncateANSI(row, m.width-2)) + "\n"
		if st.LastError != "" {
			out += errorStyle.Render(util.TruncateANSI("    "+st.LastError, m.width-2)) + "\n"
		}
	}

	if m.state != nil && len(m.state.Notifications) > 0 {
		out += "\n" + dimStyle.Render("notifications") + "\n"
		notes := m.state.Notifications
		if len(notes) > 5 {
			notes = notes[len(notes)-5:]
		}
		for _, n := range notes {
			out += dimStyle.Render(util.TruncateANSI(fmt.Sprintf("  %s [%s] %s",
				n.Time.Format("15:04:05"), n.Level, n.Message), m.width-2)) + "\n"
		}
	}

	out += "\n" + dimStyle.Render("q quit · r refresh")
	return out
}
