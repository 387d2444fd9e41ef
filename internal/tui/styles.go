package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/campuslink/cskeep/internal/session"
)

// Color palette - Dracula theme inspired.
var (
	colorPurple   = lipgloss.Color("#bd93f9")
	colorGreen    = lipgloss.Color("#50fa7b")
	colorYellow   = lipgloss.Color("#f1fa8c")
	colorCyan     = lipgloss.Color("#8be9fd")
	colorRed      = lipgloss.Color("#ff5555")
	colorWhite    = lipgloss.Color("#f8f8f2")
	colorGray     = lipgloss.Color("#6272a4")
	colorDarkGray = lipgloss.Color("#44475a")
)

// Styles holds the lipgloss styles for the watch view.
type Styles struct {
	Header lipgloss.Style
	Panel  lipgloss.Style
	Detail lipgloss.Style
	Empty  lipgloss.Style
	Help   lipgloss.Style

	StatusBar  lipgloss.Style
	StatusKey  lipgloss.Style
	StatusText lipgloss.Style

	stateValid    lipgloss.Style
	stateWorking  lipgloss.Style
	stateRetrying lipgloss.Style
	stateExpired  lipgloss.Style
	stateNone     lipgloss.Style
}

// StateLabel picks the style for a session state.
func (s Styles) StateLabel(state session.State) lipgloss.Style {
	switch state {
	case session.StateValid:
		return s.stateValid
	case session.StateRefreshing:
		return s.stateWorking
	case session.StateRetrying:
		return s.stateRetrying
	case session.StateExpired:
		return s.stateExpired
	default:
		return s.stateNone
	}
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPurple).
			MarginBottom(1),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDarkGray).
			Padding(0, 2).
			MarginBottom(1),

		Detail: lipgloss.NewStyle().
			Foreground(colorGray),

		Empty: lipgloss.NewStyle().
			Foreground(colorGray).
			Italic(true).
			Padding(1, 2),

		Help: lipgloss.NewStyle().
			Padding(1, 2).
			Foreground(colorWhite),

		StatusBar: lipgloss.NewStyle().
			Padding(0, 1).
			Background(colorDarkGray).
			Foreground(colorWhite),

		StatusKey: lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true),

		StatusText: lipgloss.NewStyle().
			Foreground(colorGray),

		stateValid:    lipgloss.NewStyle().Foreground(colorGreen).Bold(true),
		stateWorking:  lipgloss.NewStyle().Foreground(colorCyan).Bold(true),
		stateRetrying: lipgloss.NewStyle().Foreground(colorYellow).Bold(true),
		stateExpired:  lipgloss.NewStyle().Foreground(colorRed).Bold(true),
		stateNone:     lipgloss.NewStyle().Foreground(colorGray),
	}
}
