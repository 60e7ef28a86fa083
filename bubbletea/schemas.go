package bubbletea

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/keymap"
)

var _ tea.Model = SchemaModel{}

// Watcher is a live, editable schema list.
type Watcher interface {
	Run(ctx context.Context) error
	Working() []keymap.Schema
	Dirty() []string
	OnChange(fn func([]keymap.Schema))
	Edit(schemaID string, target keymap.EditTarget, value string) error
	Discard(schemaID string, target keymap.EditTarget) bool
	DiscardAll()
	Commit(ctx context.Context) error
	Committing() bool
}

type promptMode int

const (
	promptNone promptMode = iota
	promptEdit
	promptDiscard
)

// SchemaModel shows the working schema list of one project and follows
// the push feed. The feed runs for as long as the screen is open.
//
// Keys: e edits an attribute, x discards one edit, u discards every edit,
// s saves the project and q quits.
type SchemaModel struct {
	// Viewport is the scrollable output area. Exported for test access.
	Viewport viewport.Model
	// Input reads edit and discard commands. Exported for test access.
	Input textinput.Model

	watcher Watcher
	title   string
	styles  Styles

	updates chan []keymap.Schema
	ctx     context.Context
	cancel  context.CancelFunc

	schemas []keymap.Schema
	dirty   []string
	err     error
	ready   bool

	prompt  promptMode
	saving  bool
	saveErr error
	problem error
	notice  string
}

// NewSchemaView creates the schema screen for w.
func NewSchemaView(w Watcher, title string, theme keymap.Theme) SchemaModel {
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan []keymap.Schema, 1)
	w.OnChange(func(s []keymap.Schema) { offerLatest(updates, s) })

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 0

	return SchemaModel{
		Input:   ti,
		watcher: w,
		title:   title,
		styles:  NewStyles(theme),
		updates: updates,
		ctx:     ctx,
		cancel:  cancel,
		schemas: w.Working(),
		dirty:   w.Dirty(),
	}
}

// Schemas returns the schemas currently displayed.
func (m SchemaModel) Schemas() []keymap.Schema { return m.schemas }

// Err returns why the feed stopped, if it did.
func (m SchemaModel) Err() error { return m.err }

// SaveErr returns why the last save failed, if it did.
func (m SchemaModel) SaveErr() error { return m.saveErr }

// Saving reports whether a save started by this screen is outstanding.
func (m SchemaModel) Saving() bool { return m.saving }

// Init implements tea.Model.
func (m SchemaModel) Init() tea.Cmd {
	return tea.Batch(runFeed(m.ctx, m.watcher), listenForSchemas(m.ctx, m.updates, m.watcher))
}

// Update implements tea.Model.
func (m SchemaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.Viewport = viewport.New(msg.Width, max(msg.Height-2, 1))
			m.ready = true
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = max(msg.Height-2, 1)
		}
		m.Input.Width = max(msg.Width-len(m.Input.Prompt)-1, 1)
		m.Viewport.SetContent(m.renderContent())
		return m, nil

	case tea.KeyMsg:
		if m.prompt != promptNone {
			return m.handlePromptKey(msg)
		}
		return m.handleKey(msg)

	case SchemasMsg:
		m.schemas = msg.Schemas
		m.dirty = msg.Dirty
		m.Viewport.SetContent(m.renderContent())
		return m, listenForSchemas(m.ctx, m.updates, m.watcher)

	case CommitDoneMsg:
		m.saving = false
		m.saveErr = nil
		switch {
		case msg.Err == nil:
			m.notice = "Saved."
		case !errors.Is(msg.Err, context.Canceled):
			m.saveErr = msg.Err
		}
		return m, nil

	case FeedDoneMsg:
		if msg.Err != nil && !errors.Is(msg.Err, context.Canceled) {
			m.err = msg.Err
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

func (m SchemaModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.cancel()
		return m, tea.Quit
	case tea.KeyRunes:
	default:
		var cmd tea.Cmd
		m.Viewport, cmd = m.Viewport.Update(msg)
		return m, cmd
	}

	m.notice = ""
	m.problem = nil
	switch msg.String() {
	case "q":
		m.cancel()
		return m, tea.Quit
	case "e":
		return m.openPrompt(promptEdit, "schema-id target value")
	case "x":
		return m.openPrompt(promptDiscard, "schema-id target")
	case "u":
		m.watcher.DiscardAll()
		m.notice = "Edits discarded."
		return m, nil
	case "s":
		return m.save()
	}
	return m, nil
}

func (m SchemaModel) openPrompt(mode promptMode, placeholder string) (tea.Model, tea.Cmd) {
	m.prompt = mode
	m.Input.Placeholder = placeholder
	m.Input.SetValue("")
	return m, m.Input.Focus()
}

func (m SchemaModel) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.cancel()
		return m, tea.Quit
	case tea.KeyEsc:
		return m.closePrompt(), nil
	case tea.KeyEnter:
		mode := m.prompt
		text := m.Input.Value()
		m = m.closePrompt()
		if mode == promptEdit {
			m.problem = m.applyEdit(text)
		} else {
			m.problem = m.applyDiscard(text)
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	return m, cmd
}

func (m SchemaModel) closePrompt() SchemaModel {
	m.prompt = promptNone
	m.Input.SetValue("")
	m.Input.Blur()
	return m
}

// applyEdit stages "<schema-id> <target> <value>".
func (m SchemaModel) applyEdit(text string) error {
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return fmt.Errorf("expected schema-id, target and value: %w", keymap.ErrValidation)
	}
	target, err := keymap.ParseTarget(fields[1])
	if err != nil {
		return err
	}
	return m.watcher.Edit(fields[0], target, strings.Join(fields[2:], " "))
}

// applyDiscard drops the edit named by "<schema-id> <target>".
func (m SchemaModel) applyDiscard(text string) error {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return fmt.Errorf("expected schema-id and target: %w", keymap.ErrValidation)
	}
	target, err := keymap.ParseTarget(fields[1])
	if err != nil {
		return err
	}
	if !m.watcher.Discard(fields[0], target) {
		return fmt.Errorf("no pending edit for %s %s: %w", fields[0], fields[1], keymap.ErrNotFound)
	}
	return nil
}

func (m SchemaModel) save() (tea.Model, tea.Cmd) {
	if m.saving || m.watcher.Committing() {
		m.notice = "Save already in progress."
		return m, nil
	}
	if len(m.watcher.Dirty()) == 0 {
		m.notice = "Nothing to save."
		return m, nil
	}
	m.saving = true
	m.saveErr = nil
	return m, commitSchemas(m.ctx, m.watcher)
}

// View implements tea.Model.
func (m SchemaModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	var b strings.Builder
	b.WriteString(m.Viewport.View())
	b.WriteString("\n")
	if m.prompt != promptNone {
		b.WriteString(m.Input.View())
	} else {
		b.WriteString(m.statusLine())
	}
	return b.String()
}

func (m SchemaModel) renderContent() string {
	return NewTablesBlock(m.title, m.schemas, m.dirty, m.styles).View(m.Viewport.Width)
}

func (m SchemaModel) statusLine() string {
	keys := m.styles.Muted.Render("  e edit  x discard  u discard all  s save  q quit")
	switch {
	case m.saving:
		return m.styles.Accent.Render("Saving...")
	case m.saveErr != nil:
		return m.styles.Error.Render("Save failed: "+describe(m.saveErr)+". Edits kept, s to retry.") + keys
	case m.problem != nil:
		return m.styles.Error.Render(describe(m.problem)) + keys
	case m.notice != "":
		return m.styles.Success.Render(m.notice) + keys
	case m.err != nil:
		return m.styles.Error.Render("Live updates stopped: " + describe(m.err))
	case len(m.dirty) > 0:
		return m.styles.Dirty.Render("* unsaved edits") + keys
	}
	return m.styles.Muted.Render("Live") + keys
}

// offerLatest replaces any undelivered snapshot with s.
func offerLatest(ch chan []keymap.Schema, s []keymap.Schema) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func runFeed(ctx context.Context, w Watcher) tea.Cmd {
	return func() tea.Msg {
		return FeedDoneMsg{Err: w.Run(ctx)}
	}
}

func commitSchemas(ctx context.Context, w Watcher) tea.Cmd {
	return func() tea.Msg {
		return CommitDoneMsg{Err: w.Commit(ctx)}
	}
}

func listenForSchemas(ctx context.Context, ch <-chan []keymap.Schema, w Watcher) tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-ch:
			return SchemasMsg{Schemas: s, Dirty: w.Dirty()}
		case <-ctx.Done():
			return nil
		}
	}
}
