package bubbletea

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/keymap"
	"github.com/fwojciec/keymap/conversation"
)

var _ tea.Model = Model{}

// Model is the conversation screen. The user describes a project, reads
// the proposed tables and answers with feedback until they reply with an
// affirmative, which accepts the current proposal.
type Model struct {
	// Input is the text input component. Exported for test access.
	Input textinput.Model
	// Viewport is the scrollable output area. Exported for test access.
	Viewport viewport.Model

	conv   Conversation
	styles Styles

	blocks   []MessageBlock
	running  bool
	cancel   context.CancelFunc
	err      error
	ready    bool
	accepted bool
}

// New creates the conversation screen.
func New(conv Conversation, theme keymap.Theme) Model {
	ti := textinput.New()
	ti.Placeholder = "Describe your project..."
	ti.Prompt = ""
	ti.Focus()
	ti.CharLimit = 0

	return Model{
		Input:  ti,
		conv:   conv,
		styles: NewStyles(theme),
	}
}

// Running returns whether a turn is in flight.
func (m Model) Running() bool { return m.running }

// Err returns the error of the last turn, if any.
func (m Model) Err() error { return m.err }

// Accepted reports whether the user accepted the current proposal.
func (m Model) Accepted() bool { return m.accepted }

// State returns the conversation state.
func (m Model) State() keymap.ConversationState { return m.conv.State() }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m = m.handleWindowSize(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TurnDoneMsg:
		return m.handleTurnDone(msg)
	}

	// Viewport always receives messages for scrolling (keyboard and mouse).
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	if !m.running {
		m.Input, cmd = m.Input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(m.Viewport.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.Input.View())
	return b.String()
}

func (m Model) handleWindowSize(msg tea.WindowSizeMsg) Model {
	inputH := 1
	statusHeight := 1
	borderHeight := 2 // newlines between sections
	vpHeight := max(msg.Height-inputH-statusHeight-borderHeight, 1)

	if !m.ready {
		m.Viewport = viewport.New(msg.Width, vpHeight)
		m = m.renderState()
		m.ready = true
	} else {
		m.Viewport.Width = msg.Width
		m.Viewport.Height = vpHeight
	}
	m.Viewport.SetContent(m.renderContent())
	m.Viewport.GotoBottom()

	m.Input.Width = msg.Width
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		if m.running {
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		}
		return m, tea.Quit

	case tea.KeyEnter:
		if m.running {
			return m, nil
		}
		text := strings.TrimSpace(m.Input.Value())
		if text == "" {
			return m, nil
		}
		if m.conv.State().Started && conversation.IsAffirmative(text) {
			m.accepted = true
			return m, tea.Quit
		}
		return m.submitInput(text)
	}

	// Only forward non-character keys to the viewport so that typing
	// letters never scrolls.
	if !m.running {
		var cmd tea.Cmd
		var cmds []tea.Cmd

		if msg.Type != tea.KeyRunes {
			m.Viewport, cmd = m.Viewport.Update(msg)
			cmds = append(cmds, cmd)
		}

		m.Input, cmd = m.Input.Update(msg)
		cmds = append(cmds, cmd)

		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m Model) submitInput(text string) (tea.Model, tea.Cmd) {
	m.Input.SetValue("")
	m.err = nil

	m.blocks = append(m.blocks, NewUserMessageBlock(text, m.styles))
	m.Viewport.SetContent(m.renderContent())
	m.Viewport.GotoBottom()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	m.Input.Blur()

	return m, sendTurn(ctx, m.conv, text)
}

func (m Model) handleTurnDone(msg TurnDoneMsg) (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
	}
	m.running = false
	m.cancel = nil

	switch {
	case msg.Err == nil:
		m.blocks = append(m.blocks, m.proposalBlocks(msg.State)...)
	case errors.Is(msg.Err, context.Canceled):
	default:
		m.err = msg.Err
		m.blocks = append(m.blocks, NewErrorBlock(msg.Err, m.styles))
	}

	m.Viewport.SetContent(m.renderContent())
	m.Viewport.GotoBottom()
	m.Input.Placeholder = "Feedback, or \"yes\" to accept..."
	if !msg.State.Started {
		m.Input.Placeholder = "Describe your project..."
	}
	return m, m.Input.Focus()
}

// renderState creates blocks for a conversation that already has a
// proposal when the screen opens.
func (m Model) renderState() Model {
	st := m.conv.State()
	if !st.Started {
		return m
	}
	m.blocks = append(m.blocks, NewUserMessageBlock(st.Description, m.styles))
	m.blocks = append(m.blocks, m.proposalBlocks(st)...)
	return m
}

func (m Model) proposalBlocks(st keymap.ConversationState) []MessageBlock {
	blocks := []MessageBlock{NewTablesBlock(st.ProjectTitle, st.Tables, nil, m.styles)}
	if st.FollowUpQuestion != "" {
		blocks = append(blocks, NewQuestionBlock(st.FollowUpQuestion, m.styles))
	}
	return blocks
}

func (m Model) renderContent() string {
	if len(m.blocks) == 0 {
		return ""
	}
	var b strings.Builder
	for i, block := range m.blocks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block.View(m.Viewport.Width))
	}
	return b.String()
}

func (m Model) statusLine() string {
	switch {
	case m.running:
		return m.styles.Muted.Render("Generating... Esc to cancel")
	case m.err != nil:
		return m.styles.Error.Render("Last turn failed, send again to retry")
	case m.conv.State().Started:
		return m.styles.Muted.Render("Enter to send feedback, \"yes\" to accept, Esc to quit")
	}
	return m.styles.Muted.Render("Enter to send, Esc to quit")
}

// sendTurn runs one turn off the UI goroutine.
func sendTurn(ctx context.Context, conv Conversation, text string) tea.Cmd {
	return func() tea.Msg {
		st, err := conv.Send(ctx, text)
		return TurnDoneMsg{State: st, Err: err}
	}
}
