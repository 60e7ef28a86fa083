// Package bubbletea provides the Bubble Tea screens of the keymap client:
// the schema conversation, the wait for email verification and the live
// view of a project's schemas.
//
// Every screen owns the background work it starts and cancels it when the
// screen quits.
package bubbletea

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/keymap"
)

// Conversation drives one schema-generation dialogue.
type Conversation interface {
	Send(ctx context.Context, text string) (keymap.ConversationState, error)
	State() keymap.ConversationState
}

// Verifier reports the outcome of a verification poll.
type Verifier interface {
	Verified() <-chan keymap.Session
	Done() <-chan struct{}
	Wait() error
	Cancel()
}

// Run creates and runs the Bubble Tea program. It blocks until the program
// exits. The context is used for graceful shutdown: when cancelled, the
// program quits.
func Run(ctx context.Context, m tea.Model, opts ...tea.ProgramOption) (tea.Model, error) {
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
	stop := context.AfterFunc(ctx, p.Quit)
	defer stop()
	return p.Run()
}

// TurnDoneMsg carries the outcome of one conversation turn.
type TurnDoneMsg struct {
	State keymap.ConversationState
	Err   error
}

// VerifiedMsg signals that the account was verified and a session exists.
type VerifiedMsg struct {
	Session keymap.Session
}

// VerifyDoneMsg signals that polling ended without a verification.
type VerifyDoneMsg struct {
	Err error
}

// SchemasMsg delivers a new working schema list to the schema screen.
type SchemasMsg struct {
	Schemas []keymap.Schema
	Dirty   []string
}

// FeedDoneMsg signals that the push feed stopped.
type FeedDoneMsg struct {
	Err error
}

// CommitDoneMsg carries the outcome of saving a project's schemas.
type CommitDoneMsg struct {
	Err error
}
