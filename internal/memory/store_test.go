package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewFromClient(client, opts...), mr
}

func TestNextIDIncrements(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	n1, err := s.NextID(ctx, "alice")
	require.NoError(t, err)
	n2, err := s.NextID(ctx, "alice")
	require.NoError(t, err)
	other, err := s.NextID(ctx, "bob")
	require.NoError(t, err)

	assert.Equal(t, int64(1), n1)
	assert.Equal(t, int64(2), n2)
	assert.Equal(t, int64(1), other)
	assert.Equal(t, "alice_2", ConversationID("alice", n2))
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "alice", "alice_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendTurnCreatesDocument(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	conv, err := s.AppendTurn(ctx, "alice", "alice_1", "quelle heure est-il", "Il est midi.")
	require.NoError(t, err)

	assert.Equal(t, "alice_1", conv.ID)
	assert.Equal(t, "conversation", conv.Type)
	assert.Equal(t, "alice", conv.UserID)
	assert.Equal(t, int64(1), conv.MemoryID)
	assert.Equal(t, "Quelle heure est-il", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "user", conv.Messages[0].Role)
	assert.Equal(t, "assistant", conv.Messages[1].Role)

	got, err := s.Get(ctx, "alice", "alice_1")
	require.NoError(t, err)
	assert.Equal(t, conv.Title, got.Title)
	require.Len(t, got.Messages, 2)
}

func TestAppendTurnSanitizes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	conv, err := s.AppendTurn(ctx, "alice", "alice_1", "il fait 22°C", `ok \u26`)
	require.NoError(t, err)
	assert.Equal(t, "il fait 22C", conv.Messages[0].Content)
	assert.Equal(t, `ok \\u26`, conv.Messages[1].Content)
}

func TestAppendTurnAppends(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendTurn(ctx, "alice", "alice_1", "first", "one")
	require.NoError(t, err)
	conv, err := s.AppendTurn(ctx, "alice", "alice_1", "second", "two")
	require.NoError(t, err)

	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "First", conv.Title)
	assert.Equal(t, "second", conv.Messages[2].Content)
}

func TestMessagesLimitAndMissing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	msgs, err := s.Messages(ctx, "alice", "alice_9", 10)
	require.NoError(t, err)
	assert.Nil(t, msgs)

	for i := 0; i < 5; i++ {
		_, err := s.AppendTurn(ctx, "alice", "alice_1", "q", "a")
		require.NoError(t, err)
	}
	msgs, err = s.Messages(ctx, "alice", "alice_1", 4)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestListOrdersByUpdate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := s.AppendTurn(ctx, "alice", "alice_1", "first topic", "ok")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = s.AppendTurn(ctx, "alice", "alice_2", "second topic", "ok")
	require.NoError(t, err)

	summaries, err := s.List(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "alice_2", summaries[0].ID)
	assert.Equal(t, "alice_1", summaries[1].ID)
	assert.Equal(t, "Second topic", summaries[0].Title)
}

func TestListPrunesExpired(t *testing.T) {
	s, mr := newTestStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	_, err := s.AppendTurn(ctx, "alice", "alice_1", "hello", "hi")
	require.NoError(t, err)
	_, err = s.AppendTurn(ctx, "alice", "alice_2", "later", "ok")
	require.NoError(t, err)

	// Expire one document; the index entry should be dropped lazily.
	mr.Del("conduit:memory:doc:alice:alice_1")

	summaries, err := s.List(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "alice_2", summaries[0].ID)
}
