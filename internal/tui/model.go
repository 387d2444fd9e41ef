// Package tui provides the live session watch view for cskeep.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/campuslink/cskeep/internal/session"
)

const maxVisibleEvents = 12

// StatusFunc supplies the current session status on each tick.
type StatusFunc func() session.Status

// ForceFunc triggers an immediate refresh; it reports whether the
// session is valid afterwards.
type ForceFunc func(ctx context.Context) bool

// Model is the Bubble Tea model for the watch view.
type Model struct {
	status StatusFunc
	force  ForceFunc
	events <-chan session.Event

	current session.Status
	history []session.Event

	width  int
	height int

	keys     keyMap
	styles   Styles
	spinner  spinner.Model
	showHelp bool

	statusMsg string
	forcing   bool
}

// New builds a watch model over a status source, a force-refresh
// action, and the manager's event stream.
func New(status StatusFunc, force ForceFunc, events <-chan session.Event) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorCyan)

	return Model{
		status:  status,
		force:   force,
		events:  events,
		current: status(),
		keys:    defaultKeyMap(),
		styles:  DefaultStyles(),
		spinner: sp,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		m.spinner.Tick,
		tickCmd(),
		waitForEvent(m.events),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEvent(events <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{event: e}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.current = m.status()
		return m, tickCmd()

	case eventMsg:
		m.history = append(m.history, msg.event)
		if len(m.history) > maxVisibleEvents {
			m.history = m.history[len(m.history)-maxVisibleEvents:]
		}
		m.current = m.status()
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.statusMsg = "session manager stopped"
		return m, tea.Quit

	case forceDoneMsg:
		m.forcing = false
		if msg.ok {
			m.statusMsg = "refresh complete"
		} else {
			m.statusMsg = "refresh failed"
		}
		m.current = m.status()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		if m.forcing {
			return m, nil
		}
		m.forcing = true
		m.statusMsg = "refreshing"
		force := m.force
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return forceDoneMsg{ok: force(ctx)}
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.showHelp {
		return m.helpView()
	}

	header := m.styles.Header.Render("cskeep session watch")
	status := m.statusPanel()
	events := m.eventsPanel()
	bar := m.statusBar()

	return lipgloss.JoinVertical(lipgloss.Left, header, status, events, bar)
}

func (m Model) statusPanel() string {
	st := m.current

	stateLine := m.styles.StateLabel(st.State).Render(st.State.String())
	if st.IsRefreshing {
		stateLine = m.spinner.View() + " " + stateLine
	}

	rows := []string{
		"state:    " + stateLine,
		"online:   " + yesNo(st.Online),
		"valid:    " + yesNo(st.IsValid),
		"expires:  " + formatTTL(st.TimeUntilExpiry),
	}
	if st.RetryCount > 0 {
		rows = append(rows, fmt.Sprintf("retries:  %d", st.RetryCount))
	}
	if !st.LastRefreshTime.IsZero() {
		rows = append(rows, "refreshed: "+st.LastRefreshTime.Format("15:04:05"))
	}

	return m.styles.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) eventsPanel() string {
	if len(m.history) == 0 {
		return m.styles.Empty.Render("no events yet")
	}

	rows := make([]string, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		e := m.history[i]
		line := e.At.Format("15:04:05") + "  " + e.Type.String()
		if e.Detail != "" {
			line += "  " + m.styles.Detail.Render(e.Detail)
		}
		rows = append(rows, line)
	}
	return m.styles.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) statusBar() string {
	help := m.styles.StatusKey.Render("f") + m.styles.StatusText.Render(" refresh  ") +
		m.styles.StatusKey.Render("?") + m.styles.StatusText.Render(" help  ") +
		m.styles.StatusKey.Render("q") + m.styles.StatusText.Render(" quit")
	if m.statusMsg != "" {
		help += m.styles.StatusText.Render("  |  ") + m.styles.StatusText.Render(m.statusMsg)
	}
	return m.styles.StatusBar.Render(help)
}

func (m Model) helpView() string {
	lines := []string{
		m.styles.Header.Render("keys"),
		"f        force an immediate refresh",
		"?        toggle this help",
		"q        quit",
	}
	return m.styles.Help.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func formatTTL(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	return d.Round(time.Second).String()
}
