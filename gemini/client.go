package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fwojciec/keymap"
	keymapjson "github.com/fwojciec/keymap/json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Interface compliance check.
var _ keymap.Generator = (*Client)(nil)

// contentGenerator is the subset of *genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client implements [keymap.Generator] for the Gemini API. It is safe for
// concurrent use; turns of the same conversation are serialized.
type Client struct {
	models    contentGenerator
	model     string
	maxTokens int32
	log       *zap.Logger
	newID     func() string

	mu      sync.Mutex
	history map[string]*conversation
}

type conversation struct {
	mu       sync.Mutex
	contents []*genai.Content
}

// Option configures a [Client].
type Option func(*Client)

// WithModel sets the model ID.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTokens caps the length of each answer.
func WithMaxTokens(n int32) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a new Gemini [Client] with the given API key and options.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required: %w", keymap.ErrValidation)
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return newClient(gc.Models, opts...), nil
}

func newClient(models contentGenerator, opts ...Option) *Client {
	c := &Client{
		models:    models,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		log:       zap.NewNop(),
		newID:     uuid.NewString,
		history:   make(map[string]*conversation),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Generate sends one conversation turn. The first turn opens a conversation
// and the response carries its id; later turns must name that id and carry
// the user's feedback. req.APIKey is ignored: the client authenticates with
// its own key.
func (c *Client) Generate(ctx context.Context, req keymap.GenerateRequest) (keymap.GenerateResponse, error) {
	id, conv, err := c.conversation(req)
	if err != nil {
		return keymap.GenerateResponse{}, err
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	prompt := req.Description
	if !req.FirstTurn() {
		prompt = req.Feedback
	}
	turn := genai.NewContentFromText(prompt, genai.RoleUser)
	contents := append(append([]*genai.Content(nil), conv.contents...), turn)

	resp, err := c.models.GenerateContent(ctx, c.model, contents, c.config())
	if err != nil {
		return keymap.GenerateResponse{}, c.mapError(ctx, err)
	}

	text := responseText(resp)
	if text == "" {
		return keymap.GenerateResponse{}, fmt.Errorf("gemini: empty response: %w", keymap.ErrMalformedResponse)
	}
	out, err := keymapjson.UnmarshalGenerateResponse([]byte(text))
	if err != nil {
		c.log.Debug("gemini returned unusable content", zap.String("conversation_id", id), zap.Error(err))
		return keymap.GenerateResponse{}, fmt.Errorf("gemini: %w", err)
	}
	out.ConversationID = id

	// History only grows on turns that produced a usable answer.
	conv.contents = append(contents, genai.NewContentFromText(text, genai.RoleModel))
	return out, nil
}

// Forget drops the history of a conversation.
func (c *Client) Forget(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, conversationID)
}

func (c *Client) conversation(req keymap.GenerateRequest) (string, *conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.FirstTurn() {
		if strings.TrimSpace(req.Description) == "" {
			return "", nil, fmt.Errorf("gemini: description is required: %w", keymap.ErrValidation)
		}
		id := c.newID()
		conv := &conversation{}
		c.history[id] = conv
		return id, conv, nil
	}

	conv, ok := c.history[req.ConversationID]
	if !ok {
		return "", nil, fmt.Errorf("gemini: conversation %s: %w", req.ConversationID, keymap.ErrNotFound)
	}
	return req.ConversationID, conv, nil
}

func (c *Client) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		MaxOutputTokens:  c.maxTokens,
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
	}
}

func (c *Client) mapError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("gemini: %w", keymap.ErrTimeout)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return fmt.Errorf("gemini: %s: %w", apiErr.Message, keymap.ErrUnauthenticated)
		}
		return &keymap.RejectionError{Status: apiErr.Code, Detail: apiErr.Message}
	}
	return fmt.Errorf("gemini: %w", err)
}

// responseText joins the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}
