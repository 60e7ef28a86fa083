package gemini_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fwojciec/keymap"
	"github.com/fwojciec/keymap/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func answer(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: string(genai.RoleModel),
				Parts: []*genai.Part{
					{Text: "planning the tables", Thought: true},
					{Text: text},
				},
			},
		}},
	}
}

const usersAnswer = `{"project_title":"Blog","tables":[{"name":"users","fields":[{"name":"id","type":"uuid"}]}],"follow_up_question":"Comments? "}`

func TestClient_ConversationHistory(t *testing.T) {
	t.Parallel()

	var calls [][]*genai.Content
	fn := func(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		assert.Equal(t, "test-model", model)
		assert.Equal(t, "application/json", config.ResponseMIMEType)
		require.NotNil(t, config.SystemInstruction)
		calls = append(calls, contents)
		return answer(usersAnswer), nil
	}
	c := gemini.NewWithModels(fn, []string{"conv-1"}, gemini.WithModel("test-model"))

	first, err := c.Generate(context.Background(), keymap.GenerateRequest{Description: "a blog"})
	require.NoError(t, err)
	assert.Equal(t, "conv-1", first.ConversationID)
	assert.Equal(t, "Blog", first.ProjectTitle)
	assert.Equal(t, "Comments?", first.FollowUpQuestion)
	require.Len(t, first.Tables, 1)
	assert.True(t, first.Tables[0].Fields[0].Required)

	_, err = c.Generate(context.Background(), keymap.GenerateRequest{
		Description:    "a blog",
		ConversationID: "conv-1",
		Feedback:       "add comments",
	})
	require.NoError(t, err)

	require.Len(t, calls, 2)
	require.Len(t, calls[0], 1)
	assert.Equal(t, "a blog", calls[0][0].Parts[0].Text)
	require.Len(t, calls[1], 3)
	assert.Equal(t, string(genai.RoleUser), calls[1][0].Role)
	assert.Equal(t, string(genai.RoleModel), calls[1][1].Role)
	assert.Equal(t, usersAnswer, calls[1][1].Parts[0].Text)
	assert.Equal(t, "add comments", calls[1][2].Parts[0].Text)
}

func TestClient_UnknownConversation(t *testing.T) {
	t.Parallel()

	fn := func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		t.Fatal("no request expected")
		return nil, nil
	}
	c := gemini.NewWithModels(fn, nil)

	_, err := c.Generate(context.Background(), keymap.GenerateRequest{ConversationID: "nope", Feedback: "more"})
	assert.ErrorIs(t, err, keymap.ErrNotFound)
}

func TestClient_EmptyDescription(t *testing.T) {
	t.Parallel()

	c := gemini.NewWithModels(nil, nil)
	_, err := c.Generate(context.Background(), keymap.GenerateRequest{Description: "  "})
	assert.ErrorIs(t, err, keymap.ErrValidation)
}

func TestClient_MalformedAnswerKeepsHistory(t *testing.T) {
	t.Parallel()

	answers := []string{usersAnswer, `{"project_title":"x"}`, ""}
	var lengths []int
	fn := func(_ context.Context, _ string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		lengths = append(lengths, len(contents))
		a := answers[0]
		answers = answers[1:]
		return answer(a), nil
	}
	c := gemini.NewWithModels(fn, []string{"conv-1"})

	_, err := c.Generate(context.Background(), keymap.GenerateRequest{Description: "a blog"})
	require.NoError(t, err)

	turn := keymap.GenerateRequest{Description: "a blog", ConversationID: "conv-1", Feedback: "again"}
	_, err = c.Generate(context.Background(), turn)
	assert.ErrorIs(t, err, keymap.ErrMalformedResponse)
	_, err = c.Generate(context.Background(), turn)
	assert.ErrorIs(t, err, keymap.ErrMalformedResponse)

	assert.Equal(t, []int{1, 3, 3}, lengths, "failed turns are not recorded")
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"rejected", genai.APIError{Code: 429, Message: "quota"}, keymap.ErrRejected},
		{"bad key", genai.APIError{Code: 403, Message: "denied"}, keymap.ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fn := func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return nil, tt.err
			}
			_, err := gemini.NewWithModels(fn, []string{"c"}).Generate(context.Background(), keymap.GenerateRequest{Description: "a"})
			assert.ErrorIs(t, err, tt.target)
		})
	}

	t.Run("transport", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("connection reset")
		fn := func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, boom
		}
		_, err := gemini.NewWithModels(fn, []string{"c"}).Generate(context.Background(), keymap.GenerateRequest{Description: "a"})
		assert.ErrorIs(t, err, boom)
		assert.True(t, keymap.Retryable(err))
	})

	t.Run("deadline", func(t *testing.T) {
		t.Parallel()
		fn := func(ctx context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := gemini.NewWithModels(fn, []string{"c"}).Generate(ctx, keymap.GenerateRequest{Description: "a"})
		assert.ErrorIs(t, err, keymap.ErrTimeout)
	})
}

func TestClient_Forget(t *testing.T) {
	t.Parallel()

	fn := func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return answer(usersAnswer), nil
	}
	c := gemini.NewWithModels(fn, []string{"conv-1"})
	_, err := c.Generate(context.Background(), keymap.GenerateRequest{Description: "a blog"})
	require.NoError(t, err)

	c.Forget("conv-1")
	_, err = c.Generate(context.Background(), keymap.GenerateRequest{ConversationID: "conv-1", Feedback: "more"})
	assert.ErrorIs(t, err, keymap.ErrNotFound)
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := gemini.New(context.Background(), "")
	assert.ErrorIs(t, err, keymap.ErrValidation)
}
