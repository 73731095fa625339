package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJobStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, opts...)
}

func TestCreateAndGet(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestJobStore(t, WithStoreClock(func() time.Time { return now }))
	ctx := context.Background()

	req := map[string]any{"prompt": "hello", "user_id": "alice"}
	state, err := s.Create(ctx, "j1", req, MsgQueued)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, state.Status)
	assert.Equal(t, 0, state.Progress)
	assert.Equal(t, MsgQueued, state.Message)
	assert.Equal(t, now, state.CreatedAt)

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)

	sidecar, err := s.Request(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "hello", sidecar["prompt"])
	assert.Equal(t, "alice", sidecar["user_id"])
}

func TestGetUnknownJob(t *testing.T) {
	s := newTestJobStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Request(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "j1", map[string]any{"prompt": "x"}, MsgQueued)
	require.NoError(t, err)

	state, err := s.Update(ctx, "j1", func(st *State) {
		st.Status = StatusRunning
		st.Progress = 10
		st.Message = MsgThinking
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, state.Status)
	assert.Equal(t, 10, state.Progress)

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, MsgThinking, got.Message)
}

func TestUpdateMissingStartsFresh(t *testing.T) {
	s := newTestJobStore(t)

	state, err := s.Update(context.Background(), "late", func(st *State) {
		st.Status = StatusCompleted
		st.Progress = 100
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.False(t, state.CreatedAt.IsZero())
}

func TestDecodeRequest(t *testing.T) {
	body := map[string]any{
		"prompt":           "bonjour",
		"user_id":          "alice",
		"conversation_id":  "alice_1",
		"reasoning_effort": "high",
		"allowed_tools":    []any{"search_web"},
		"constraints":      map[string]any{"prefer_reasoning": true},
		"client":           "webapp",
	}
	req, err := DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "bonjour", req.Prompt)
	assert.Equal(t, "alice", req.UserID)
	assert.Equal(t, "alice_1", req.ConversationID)
	assert.Equal(t, "high", req.Effort)
	assert.Equal(t, []any{"search_web"}, req.AllowedTools)
	assert.Equal(t, true, req.Constraints["prefer_reasoning"])
	// Unknown keys survive in Extra.
	assert.Equal(t, "webapp", req.Extra["client"])
}
