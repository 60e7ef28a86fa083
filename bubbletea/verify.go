package bubbletea

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/keymap"
)

var _ tea.Model = VerifyModel{}

// VerifyModel is the screen shown while waiting for the user to follow
// the verification link. Leaving the screen cancels the poll.
type VerifyModel struct {
	// Spinner is exported for test access.
	Spinner spinner.Model

	verifier Verifier
	email    string
	styles   Styles

	session  keymap.Session
	verified bool
	err      error
}

// NewVerify creates the verification-wait screen for a poll that has
// already been started.
func NewVerify(v Verifier, email string, theme keymap.Theme) VerifyModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return VerifyModel{
		Spinner:  s,
		verifier: v,
		email:    email,
		styles:   NewStyles(theme),
	}
}

// Verified reports whether the account was verified.
func (m VerifyModel) Verified() bool { return m.verified }

// Session returns the session established on verification.
func (m VerifyModel) Session() keymap.Session { return m.session }

// Err returns why polling ended without a verification. It is
// context.Canceled when the user left the screen.
func (m VerifyModel) Err() error { return m.err }

// Init implements tea.Model.
func (m VerifyModel) Init() tea.Cmd {
	return tea.Batch(m.Spinner.Tick, waitVerification(m.verifier))
}

// Update implements tea.Model.
func (m VerifyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.verifier.Cancel()
			m.err = m.verifier.Wait()
			return m, tea.Quit
		}
		return m, nil

	case VerifiedMsg:
		m.verified = true
		m.session = msg.Session
		return m, tea.Quit

	case VerifyDoneMsg:
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m VerifyModel) View() string {
	var b strings.Builder
	switch {
	case m.verified:
		b.WriteString(m.styles.Success.Render("Email verified, you are logged in."))
	case errors.Is(m.err, keymap.ErrVerificationTimeout):
		b.WriteString(m.styles.Error.Render("Gave up waiting for verification. Log in once you have followed the link."))
	case m.err != nil:
		b.WriteString(m.styles.Muted.Render("Stopped waiting for verification."))
	default:
		b.WriteString(m.Spinner.View())
		b.WriteString(fmt.Sprintf(" Waiting for you to follow the link sent to %s", m.styles.Accent.Render(m.email)))
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render("Esc to stop waiting"))
	}
	b.WriteString("\n")
	return b.String()
}

// waitVerification blocks until the poll ends.
func waitVerification(v Verifier) tea.Cmd {
	return func() tea.Msg {
		select {
		case s, ok := <-v.Verified():
			if ok {
				return VerifiedMsg{Session: s}
			}
		case <-v.Done():
			select {
			case s, ok := <-v.Verified():
				if ok {
					return VerifiedMsg{Session: s}
				}
			default:
			}
		}
		return VerifyDoneMsg{Err: v.Wait()}
	}
}
