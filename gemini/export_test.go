package gemini

import (
	"context"

	"google.golang.org/genai"
)

// GenerateFunc adapts a function to the models interface for testing.
type GenerateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

func (f GenerateFunc) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return f(ctx, model, contents, config)
}

// NewWithModels creates a Client backed by fn with deterministic ids.
func NewWithModels(fn GenerateFunc, ids []string, opts ...Option) *Client {
	c := newClient(fn, opts...)
	c.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	return c
}
