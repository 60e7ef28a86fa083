package bubbletea_test

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/keymap"
	bt "github.com/fwojciec/keymap/bubbletea"
	"github.com/fwojciec/keymap/conversation"
	"github.com/fwojciec/keymap/mock"
	"github.com/stretchr/testify/require"
)

func blogTables() []keymap.Schema {
	return []keymap.Schema{{
		Name:        "users",
		Description: "registered readers",
		Fields: []keymap.Field{
			{Name: "id", Type: "uuid", Required: true},
			{Name: "email", Type: "text", Required: true},
			{Name: "bio", Type: "text"},
		},
	}}
}

// blogGenerator answers every turn with the blog tables.
func blogGenerator() *mock.Generator {
	return &mock.Generator{
		GenerateFn: func(ctx context.Context, req keymap.GenerateRequest) (keymap.GenerateResponse, error) {
			if err := ctx.Err(); err != nil {
				return keymap.GenerateResponse{}, err
			}
			return keymap.GenerateResponse{
				ProjectTitle:     "Blog",
				Tables:           blogTables(),
				FollowUpQuestion: "Should posts have comments?",
				ConversationID:   "conv-1",
			}, nil
		},
	}
}

func newEngine(gen keymap.Generator) *conversation.Engine {
	return conversation.New(gen, mock.LiveGate("tok"))
}

// initModel creates a model and sends a WindowSizeMsg to initialize the viewport.
func initModel(t *testing.T, conv bt.Conversation) bt.Model {
	t.Helper()
	m := bt.New(conv, keymap.DefaultTheme())
	return updateModel(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
}

// updateModel sends a message and returns the updated Model.
func updateModel(t *testing.T, m bt.Model, msg tea.Msg) bt.Model {
	t.Helper()
	updated, _ := m.Update(msg)
	model, ok := updated.(bt.Model)
	require.True(t, ok)
	return model
}

// typeText sets the input value the way typing would.
func typeText(m bt.Model, text string) bt.Model {
	m.Input.SetValue(text)
	return m
}
