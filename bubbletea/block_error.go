package bubbletea

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fwojciec/keymap"
)

var _ MessageBlock = (*ErrorBlock)(nil)

// ErrorBlock renders an error message.
type ErrorBlock struct {
	err    error
	styles Styles
}

// NewErrorBlock creates an ErrorBlock.
func NewErrorBlock(err error, styles Styles) *ErrorBlock {
	return &ErrorBlock{err: err, styles: styles}
}

func (b *ErrorBlock) Update(tea.Msg) (MessageBlock, tea.Cmd) {
	return b, nil
}

func (b *ErrorBlock) View(width int) string {
	content := b.styles.Error.Render("Error: " + describe(b.err))
	return lipgloss.NewStyle().Width(width).Render(content)
}

// describe turns an error into a line a user can act on.
func describe(err error) string {
	var rej *keymap.RejectionError
	switch {
	case errors.As(err, &rej) && rej.Detail != "":
		return rej.Detail
	case errors.Is(err, keymap.ErrTimeout):
		return "the server took too long to answer, try again"
	case errors.Is(err, keymap.ErrMalformedResponse):
		return "the server sent an answer that could not be read, try again"
	case errors.Is(err, keymap.ErrUnauthenticated):
		return "your session has ended, log in again"
	}
	return fmt.Sprint(err)
}
