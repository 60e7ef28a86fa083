package bubbletea_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/fwojciec/keymap"
	bt "github.com/fwojciec/keymap/bubbletea"
	"github.com/fwojciec/keymap/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	m := bt.New(newEngine(blogGenerator()), keymap.DefaultTheme())

	assert.False(t, m.Running())
	assert.NoError(t, m.Err())
	assert.False(t, m.Accepted())
	assert.Equal(t, "Initializing...", m.View())
}

func TestModel_Update(t *testing.T) {
	t.Parallel()

	t.Run("window size sizes viewport", func(t *testing.T) {
		t.Parallel()

		m := initModel(t, newEngine(blogGenerator()))
		assert.Equal(t, 80, m.Viewport.Width)
		assert.Equal(t, 20, m.Viewport.Height) // 24 - 1 - 1 - 2

		m = updateModel(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
		assert.Equal(t, 120, m.Viewport.Width)
		assert.Equal(t, 36, m.Viewport.Height)
	})

	t.Run("esc when idle quits", func(t *testing.T) {
		t.Parallel()

		m := initModel(t, newEngine(blogGenerator()))
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
		require.NotNil(t, cmd)
		_, isQuit := cmd().(tea.QuitMsg)
		assert.True(t, isQuit)
	})

	t.Run("enter with empty input does nothing", func(t *testing.T) {
		t.Parallel()

		m := initModel(t, newEngine(blogGenerator()))
		m = typeText(m, "   ")
		updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		assert.Nil(t, cmd)
		assert.False(t, updated.(bt.Model).Running())
	})

	t.Run("turn renders tables and question", func(t *testing.T) {
		t.Parallel()

		m := initModel(t, newEngine(blogGenerator()))
		m = typeText(m, "a blog")
		updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = updated.(bt.Model)
		require.NotNil(t, cmd)
		assert.True(t, m.Running())
		assert.Empty(t, m.Input.Value())

		msg := cmd()
		done, ok := msg.(bt.TurnDoneMsg)
		require.True(t, ok)
		require.NoError(t, done.Err)

		m = updateModel(t, m, msg)
		assert.False(t, m.Running())
		content := bt.RenderContent(m)
		assert.Contains(t, content, "a blog")
		assert.Contains(t, content, "Blog")
		assert.Contains(t, content, "users")
		assert.Contains(t, content, "email")
		assert.Contains(t, content, "Should posts have comments?")
		assert.True(t, m.State().Started)
	})

	t.Run("failed turn shows error and keeps input usable", func(t *testing.T) {
		t.Parallel()

		gen := &mock.Generator{
			GenerateFn: func(context.Context, keymap.GenerateRequest) (keymap.GenerateResponse, error) {
				return keymap.GenerateResponse{}, &keymap.RejectionError{Status: 400, Detail: "description too short"}
			},
		}
		m := initModel(t, newEngine(gen))
		m = typeText(m, "x")
		updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = updateModel(t, updated.(bt.Model), cmd())

		assert.ErrorIs(t, m.Err(), keymap.ErrRejected)
		assert.False(t, m.Running())
		assert.Contains(t, bt.RenderContent(m), "description too short")
	})

	t.Run("affirmative before any proposal is a description", func(t *testing.T) {
		t.Parallel()

		m := initModel(t, newEngine(blogGenerator()))
		m = typeText(m, "yes")
		updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = updated.(bt.Model)
		assert.False(t, m.Accepted())
		assert.True(t, m.Running())
		require.NotNil(t, cmd)
	})

	t.Run("affirmative after a proposal accepts", func(t *testing.T) {
		t.Parallel()

		m := initModel(t, newEngine(blogGenerator()))
		m = typeText(m, "a blog")
		updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = updateModel(t, updated.(bt.Model), cmd())

		m = typeText(m, "Looks good!")
		updated, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = updated.(bt.Model)
		assert.True(t, m.Accepted())
		require.NotNil(t, cmd)
		_, isQuit := cmd().(tea.QuitMsg)
		assert.True(t, isQuit)
	})

	t.Run("esc while running cancels the turn", func(t *testing.T) {
		t.Parallel()

		m := initModel(t, newEngine(blogGenerator()))
		m = typeText(m, "a blog")
		updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = updated.(bt.Model)

		updated, quit := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
		m = updated.(bt.Model)
		assert.Nil(t, quit, "cancelling does not quit")

		msg := cmd()
		assert.True(t, errors.Is(msg.(bt.TurnDoneMsg).Err, context.Canceled))

		m = updateModel(t, m, msg)
		assert.False(t, m.Running())
		assert.NoError(t, m.Err(), "cancellation is not an error")
		assert.False(t, m.State().Started)
	})
}

func TestModel_Program(t *testing.T) {
	t.Parallel()

	m := bt.New(newEngine(blogGenerator()), keymap.DefaultTheme())
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))

	tm.Type("a blog")
	tm.Send(tea.KeyMsg{Type: tea.KeyEnter})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("users")) &&
			bytes.Contains(out, []byte("comments?"))
	}, teatest.WithDuration(5*time.Second))

	tm.Type("yes")
	tm.Send(tea.KeyMsg{Type: tea.KeyEnter})

	fm := tm.FinalModel(t, teatest.WithFinalTimeout(5*time.Second))
	final, ok := fm.(bt.Model)
	require.True(t, ok)
	assert.True(t, final.Accepted())
	assert.Equal(t, 1, final.State().Turns)
	assert.Equal(t, "conv-1", final.State().ID)
}
