package bubbletea

import tea "github.com/charmbracelet/bubbletea"

// RenderContent exports renderContent for testing.
func RenderContent(m Model) string {
	return m.renderContent()
}

// Describe exports describe for testing.
func Describe(err error) string {
	return describe(err)
}

// WaitVerification exports waitVerification for testing.
func WaitVerification(v Verifier) tea.Cmd {
	return waitVerification(v)
}
