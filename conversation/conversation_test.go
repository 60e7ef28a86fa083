package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fwojciec/keymap"
	"github.com/fwojciec/keymap/conversation"
	"github.com/fwojciec/keymap/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table(name string) keymap.Schema {
	return keymap.Schema{Name: name, Fields: []keymap.Field{{Name: "id", Type: "uuid", Required: true}}}
}

// recorder returns a Generator that records every request and answers
// with responses in order.
func recorder(t *testing.T, responses ...keymap.GenerateResponse) (*mock.Generator, *[]keymap.GenerateRequest) {
	t.Helper()
	var reqs []keymap.GenerateRequest
	gen := &mock.Generator{
		GenerateFn: func(_ context.Context, req keymap.GenerateRequest) (keymap.GenerateResponse, error) {
			reqs = append(reqs, req)
			require.LessOrEqual(t, len(reqs), len(responses), "unexpected extra turn")
			return responses[len(reqs)-1], nil
		},
	}
	return gen, &reqs
}

func TestEngine_TurnProtocol(t *testing.T) {
	t.Parallel()

	gen, reqs := recorder(t,
		keymap.GenerateResponse{ConversationID: "c-1", ProjectTitle: "Shop", Tables: []keymap.Schema{table("users"), table("orders")}, FollowUpQuestion: "Add payments?"},
		keymap.GenerateResponse{ConversationID: "c-1", Tables: []keymap.Schema{table("payments")}, FollowUpQuestion: "Anything else?"},
		keymap.GenerateResponse{ConversationID: "c-1", Tables: []keymap.Schema{table("invoices")}},
	)
	e := conversation.New(gen, mock.LiveGate("tok"), conversation.WithAPIKey("key"))

	st, err := e.Send(context.Background(), "  an online shop  ")
	require.NoError(t, err)
	assert.True(t, st.Started)
	assert.Equal(t, "c-1", st.ID)
	assert.Equal(t, "Shop", st.ProjectTitle)
	assert.Len(t, st.Tables, 2)
	assert.Equal(t, "Add payments?", st.FollowUpQuestion)

	_, err = e.Send(context.Background(), "yes, add payments")
	require.NoError(t, err)
	st, err = e.Send(context.Background(), "rename to invoices")
	require.NoError(t, err)

	require.Len(t, *reqs, 3)
	first := (*reqs)[0]
	assert.True(t, first.FirstTurn())
	assert.Equal(t, "an online shop", first.Description)
	assert.Empty(t, first.Feedback, "first turn never carries feedback")
	assert.Equal(t, "key", first.APIKey)
	for i, req := range (*reqs)[1:] {
		assert.Equal(t, "c-1", req.ConversationID, "turn %d", i+2)
		assert.NotEmpty(t, req.Feedback, "turn %d", i+2)
		assert.Equal(t, "an online shop", req.Description, "turn %d", i+2)
	}
	assert.Equal(t, "rename to invoices", (*reqs)[2].Feedback)

	assert.Equal(t, []keymap.Schema{table("invoices")}, st.Tables, "tables are replaced, not merged")
	assert.Equal(t, "Shop", st.ProjectTitle)
	assert.Empty(t, st.FollowUpQuestion)
	assert.Equal(t, 3, st.Turns)
}

func TestEngine_RequiresIdentity(t *testing.T) {
	t.Parallel()

	e := conversation.New(&mock.Generator{}, &mock.Gate{})
	_, err := e.Send(context.Background(), "a blog")
	assert.ErrorIs(t, err, keymap.ErrUnauthenticated)
}

func TestEngine_AnonymousIdentity(t *testing.T) {
	t.Parallel()

	gen, _ := recorder(t, keymap.GenerateResponse{ConversationID: "c-1"})
	gate := &mock.Gate{IdentityFn: func() (keymap.Identity, bool) { return keymap.Anonymous{}, true }}
	e := conversation.New(gen, gate)

	_, err := e.Send(context.Background(), "a blog")
	assert.NoError(t, err)
}

func TestEngine_EmptyInput(t *testing.T) {
	t.Parallel()

	e := conversation.New(&mock.Generator{}, mock.LiveGate("tok"))
	_, err := e.Send(context.Background(), " \n\t")
	assert.ErrorIs(t, err, keymap.ErrValidation)
}

func TestEngine_Failures(t *testing.T) {
	t.Parallel()

	start := func(t *testing.T, fail error) (*conversation.Engine, *[]keymap.GenerateRequest) {
		t.Helper()
		var reqs []keymap.GenerateRequest
		gen := &mock.Generator{
			GenerateFn: func(_ context.Context, req keymap.GenerateRequest) (keymap.GenerateResponse, error) {
				reqs = append(reqs, req)
				if len(reqs) == 1 {
					return keymap.GenerateResponse{ConversationID: "c-1", Tables: []keymap.Schema{table("users")}}, nil
				}
				if len(reqs) == 2 {
					return keymap.GenerateResponse{}, fail
				}
				return keymap.GenerateResponse{ConversationID: "c-1", Tables: []keymap.Schema{table("accounts")}}, nil
			},
		}
		e := conversation.New(gen, mock.LiveGate("tok"))
		_, err := e.Send(context.Background(), "a forum")
		require.NoError(t, err)
		return e, &reqs
	}

	t.Run("transport failure keeps prior state", func(t *testing.T) {
		t.Parallel()
		e, reqs := start(t, errors.New("connection reset"))

		st, err := e.Send(context.Background(), "add posts")
		require.Error(t, err)
		assert.True(t, keymap.Retryable(err))
		assert.Equal(t, "c-1", st.ID)
		assert.Equal(t, []keymap.Schema{table("users")}, st.Tables)
		assert.Equal(t, 1, st.Turns)

		st, err = e.Send(context.Background(), "add posts")
		require.NoError(t, err)
		assert.Equal(t, "c-1", (*reqs)[2].ConversationID)
		assert.Equal(t, "add posts", (*reqs)[2].Feedback)
		assert.Equal(t, []keymap.Schema{table("accounts")}, st.Tables)
	})

	t.Run("malformed response clears tables but keeps the conversation", func(t *testing.T) {
		t.Parallel()
		e, reqs := start(t, fmt.Errorf("decode: %w", keymap.ErrMalformedResponse))

		st, err := e.Send(context.Background(), "add posts")
		assert.ErrorIs(t, err, keymap.ErrMalformedResponse)
		assert.Empty(t, st.Tables)
		assert.True(t, st.Started)
		assert.Equal(t, "c-1", st.ID)

		_, err = e.Send(context.Background(), "try again")
		require.NoError(t, err)
		assert.Equal(t, "c-1", (*reqs)[2].ConversationID)
	})

	t.Run("rejection is not retryable", func(t *testing.T) {
		t.Parallel()
		e, _ := start(t, &keymap.RejectionError{Status: 400, Detail: "Invalid API key"})

		_, err := e.Send(context.Background(), "add posts")
		assert.ErrorIs(t, err, keymap.ErrRejected)
		assert.False(t, keymap.Retryable(err))
	})
}

func TestEngine_FirstTurnWithoutID(t *testing.T) {
	t.Parallel()

	gen, reqs := recorder(t,
		keymap.GenerateResponse{Tables: []keymap.Schema{table("users")}},
		keymap.GenerateResponse{ConversationID: "c-2", Tables: []keymap.Schema{table("users")}},
	)
	e := conversation.New(gen, mock.LiveGate("tok"))

	st, err := e.Send(context.Background(), "a crm")
	assert.ErrorIs(t, err, keymap.ErrMalformedResponse)
	assert.False(t, st.Started)

	st, err = e.Send(context.Background(), "a crm")
	require.NoError(t, err)
	assert.True(t, (*reqs)[1].FirstTurn(), "conversation never started")
	assert.Equal(t, "c-2", st.ID)
}

func TestEngine_IgnoresChangedID(t *testing.T) {
	t.Parallel()

	gen, reqs := recorder(t,
		keymap.GenerateResponse{ConversationID: "c-1"},
		keymap.GenerateResponse{ConversationID: "c-other"},
		keymap.GenerateResponse{},
	)
	e := conversation.New(gen, mock.LiveGate("tok"))

	for _, text := range []string{"a crm", "more", "again"} {
		_, err := e.Send(context.Background(), text)
		require.NoError(t, err)
	}
	assert.Equal(t, "c-1", e.State().ID)
	assert.Equal(t, "c-1", (*reqs)[2].ConversationID)
}

func TestEngine_CallTimeout(t *testing.T) {
	t.Parallel()

	gen := &mock.Generator{
		GenerateFn: func(ctx context.Context, _ keymap.GenerateRequest) (keymap.GenerateResponse, error) {
			<-ctx.Done()
			return keymap.GenerateResponse{}, ctx.Err()
		},
	}
	e := conversation.New(gen, mock.LiveGate("tok"), conversation.WithCallTimeout(10*time.Millisecond))

	_, err := e.Send(context.Background(), "a crm")
	assert.ErrorIs(t, err, keymap.ErrTimeout)
	assert.True(t, keymap.Retryable(err))
}

func TestEngine_StateIsACopy(t *testing.T) {
	t.Parallel()

	gen, _ := recorder(t, keymap.GenerateResponse{ConversationID: "c-1", Tables: []keymap.Schema{table("users")}})
	e := conversation.New(gen, mock.LiveGate("tok"))
	st, err := e.Send(context.Background(), "a crm")
	require.NoError(t, err)

	st.Tables[0].Fields[0].Name = "mutated"
	assert.Equal(t, "id", e.State().Tables[0].Fields[0].Name)
}

func TestEngine_Reset(t *testing.T) {
	t.Parallel()

	gen, reqs := recorder(t,
		keymap.GenerateResponse{ConversationID: "c-1"},
		keymap.GenerateResponse{ConversationID: "c-2"},
	)
	e := conversation.New(gen, mock.LiveGate("tok"))

	_, err := e.Send(context.Background(), "a crm")
	require.NoError(t, err)
	e.Reset()
	assert.Equal(t, keymap.ConversationState{}, e.State())

	_, err = e.Send(context.Background(), "a blog")
	require.NoError(t, err)
	assert.True(t, (*reqs)[1].FirstTurn())
	assert.Equal(t, "a blog", (*reqs)[1].Description)
}

func TestIsAffirmative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"yes", true},
		{"Yes!", true},
		{"  looks   good. ", true},
		{"LGTM", true},
		{"that's it", true},
		{"ok", true},
		{"no", false},
		{"yes, add payments", false},
		{"", false},
		{"add a users table", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, conversation.IsAffirmative(tt.text))
		})
	}
}
