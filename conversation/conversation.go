// Package conversation drives the multi-turn schema generation dialogue.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fwojciec/keymap"
	"go.uber.org/zap"
)

// DefaultCallTimeout bounds a single generation call.
const DefaultCallTimeout = 30 * time.Second

// Engine sends turns to a Generator and keeps the resulting conversation
// state. The first turn carries the description; once the collaborator has
// assigned a conversation id every later turn is feedback on the current
// proposal and echoes that id.
type Engine struct {
	gen         keymap.Generator
	gate        keymap.Gate
	log         *zap.Logger
	apiKey      string
	callTimeout time.Duration

	turn sync.Mutex // serializes Send

	mu    sync.Mutex
	state keymap.ConversationState
}

// Option configures an [Engine].
type Option func(*Engine)

// WithAPIKey sets the key forwarded to the generation collaborator.
func WithAPIKey(key string) Option {
	return func(e *Engine) { e.apiKey = key }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithCallTimeout bounds each generation call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// New creates an [Engine]. gate must report a live identity for Send to
// proceed.
func New(gen keymap.Generator, gate keymap.Gate, opts ...Option) *Engine {
	e := &Engine{
		gen:         gen,
		gate:        gate,
		log:         zap.NewNop(),
		callTimeout: DefaultCallTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Send submits text as the next turn and returns the updated state.
//
// On failure the previous tables and conversation id are kept, except that
// an unparseable response clears the displayed tables. The returned state
// is always the engine's current state.
func (e *Engine) Send(ctx context.Context, text string) (keymap.ConversationState, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return e.State(), fmt.Errorf("empty message: %w", keymap.ErrValidation)
	}
	if _, ok := e.gate.Identity(); !ok {
		return e.State(), fmt.Errorf("generate schema: %w", keymap.ErrUnauthenticated)
	}

	e.turn.Lock()
	defer e.turn.Unlock()

	prev := e.State()
	req := keymap.GenerateRequest{Description: text, APIKey: e.apiKey}
	if prev.Started {
		req.Description = prev.Description
		req.ConversationID = prev.ID
		req.Feedback = text
	}

	resp, err := e.generate(ctx, req)
	if err != nil {
		if errors.Is(err, keymap.ErrMalformedResponse) {
			e.mu.Lock()
			e.state.Tables = nil
			e.mu.Unlock()
		}
		return e.State(), err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Started {
		e.state.Started = true
		e.state.ID = resp.ConversationID
		e.state.Description = text
	} else if resp.ConversationID != e.state.ID {
		e.log.Warn("ignoring changed conversation id",
			zap.String("conversation_id", e.state.ID),
			zap.String("received", resp.ConversationID))
	}
	e.state.Tables = keymap.CloneSchemas(resp.Tables)
	if resp.ProjectTitle != "" {
		e.state.ProjectTitle = resp.ProjectTitle
	}
	e.state.FollowUpQuestion = resp.FollowUpQuestion
	e.state.Turns++
	return cloneState(e.state), nil
}

func (e *Engine) generate(ctx context.Context, req keymap.GenerateRequest) (keymap.GenerateResponse, error) {
	callCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	resp, err := e.gen.Generate(callCtx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, keymap.ErrTimeout) {
			err = fmt.Errorf("%w: %w", keymap.ErrTimeout, err)
		}
		return keymap.GenerateResponse{}, fmt.Errorf("generate schema: %w", err)
	}
	if req.FirstTurn() && resp.ConversationID == "" {
		return keymap.GenerateResponse{}, fmt.Errorf("generate schema: no conversation id: %w", keymap.ErrMalformedResponse)
	}
	return resp, nil
}

// State returns a copy of the current conversation state.
func (e *Engine) State() keymap.ConversationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneState(e.state)
}

// Reset forgets the conversation. The next Send starts a new one.
func (e *Engine) Reset() {
	e.turn.Lock()
	defer e.turn.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = keymap.ConversationState{}
}

func cloneState(s keymap.ConversationState) keymap.ConversationState {
	s.Tables = keymap.CloneSchemas(s.Tables)
	return s
}

var affirmatives = map[string]bool{
	"y":            true,
	"yes":          true,
	"yeah":         true,
	"yep":          true,
	"yup":          true,
	"sure":         true,
	"ok":           true,
	"okay":         true,
	"done":         true,
	"perfect":      true,
	"great":        true,
	"lgtm":         true,
	"looks good":   true,
	"that's it":    true,
	"thats it":     true,
	"no changes":   true,
	"all good":     true,
	"yes please":   true,
	"save":         true,
	"save it":      true,
	"good":         true,
	"correct":      true,
	"looks great":  true,
	"sounds good":  true,
	"that's great": true,
}

// IsAffirmative reports whether text accepts the current proposal rather
// than asking for changes. Ending refinement is the caller's decision; the
// engine itself can be driven indefinitely.
func IsAffirmative(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRightFunc(t, func(r rune) bool { return unicode.IsPunct(r) && r != '\'' })
	t = strings.Join(strings.Fields(t), " ")
	return affirmatives[t]
}
