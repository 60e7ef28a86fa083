package bubbletea

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/fwojciec/keymap"
)

// Styles maps a Theme to lipgloss styles for TUI rendering.
type Styles struct {
	UserMsg     lipgloss.Style
	Question    lipgloss.Style
	TableHeader lipgloss.Style
	Error       lipgloss.Style
	Success     lipgloss.Style
	Muted       lipgloss.Style
	Dirty       lipgloss.Style
	Accent      lipgloss.Style
	UserBg      lipgloss.Style
}

// NewStyles creates Styles from a Theme.
func NewStyles(t keymap.Theme) Styles {
	return Styles{
		UserMsg:     lipgloss.NewStyle().Foreground(ansiColor(t.UserMsg)).Bold(true),
		Question:    lipgloss.NewStyle().Foreground(ansiColor(t.Question)),
		TableHeader: lipgloss.NewStyle().Foreground(ansiColor(t.Table)).Bold(true),
		Error:       lipgloss.NewStyle().Foreground(ansiColor(t.Error)),
		Success:     lipgloss.NewStyle().Foreground(ansiColor(t.Success)),
		Muted:       lipgloss.NewStyle().Foreground(ansiColor(t.Muted)).Faint(true),
		Dirty:       lipgloss.NewStyle().Foreground(ansiColor(t.Dirty)).Bold(true),
		Accent:      lipgloss.NewStyle().Foreground(ansiColor(t.Accent)).Bold(true),
		UserBg:      lipgloss.NewStyle().Background(ansiColor(t.UserMsg)).PaddingLeft(1),
	}
}

func ansiColor(index int) lipgloss.TerminalColor {
	if index < 0 {
		return lipgloss.NoColor{}
	}
	return lipgloss.Color(strconv.Itoa(index))
}
