// Package memory persists per-user conversation documents in Redis.
//
// Each conversation is a single JSON document whose id is "<user>_<n>", where
// n is allocated monotonically per user. Documents carry the ordered message
// history for the conversation and expire after the configured TTL.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a conversation document does not exist.
var ErrNotFound = errors.New("conversation not found")

// Message is a single turn half inside a conversation document.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the stored document.
type Conversation struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	MemoryID  int64     `json:"memory_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Summary is the listing projection of a conversation.
type Summary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title,omitempty"`
	MemoryID  int64     `json:"memory_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store implements the conversation store on Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Store)

// WithTTL sets the expiration for conversation documents.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewFromClient creates a store from an existing Redis client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "conduit:memory:",
		ttl:    0,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) docKey(userID, convID string) string {
	return s.prefix + "doc:" + userID + ":" + convID
}

func (s *Store) indexKey(userID string) string {
	return s.prefix + "index:" + userID
}

func (s *Store) seqKey(userID string) string {
	return s.prefix + "seq:" + userID
}

// NextID allocates the next memory id for a user.
func (s *Store) NextID(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, errors.New("user id is required")
	}
	n, err := s.client.Incr(ctx, s.seqKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate memory id: %w", err)
	}
	return n, nil
}

// ConversationID builds the canonical conversation id for a user and memory id.
func ConversationID(userID string, memoryID int64) string {
	return fmt.Sprintf("%s_%d", userID, memoryID)
}

// Get loads a conversation document. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, userID, convID string) (*Conversation, error) {
	if userID == "" || convID == "" {
		return nil, errors.New("user id and conversation id are required")
	}
	val, err := s.client.Get(ctx, s.docKey(userID, convID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	var conv Conversation
	if err := json.Unmarshal([]byte(val), &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}

// Messages returns the last limit messages of a conversation. A missing
// document yields an empty slice, not an error.
func (s *Store) Messages(ctx context.Context, userID, convID string, limit int) ([]Message, error) {
	conv, err := s.Get(ctx, userID, convID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	limit = clamp(limit, 1, 200, 50)
	msgs := conv.Messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// AppendTurn appends a user/assistant exchange to the conversation document,
// creating the document on first write. Both texts are sanitized before
// persisting.
func (s *Store) AppendTurn(ctx context.Context, userID, convID, userText, assistantText string) (*Conversation, error) {
	if userID == "" || convID == "" {
		return nil, errors.New("user id and conversation id are required")
	}
	now := s.now().UTC().Truncate(time.Second)
	userText = SanitizeText(userText)
	assistantText = SanitizeText(assistantText)

	conv, err := s.Get(ctx, userID, convID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if conv == nil {
		conv = &Conversation{
			ID:        convID,
			Type:      "conversation",
			UserID:    userID,
			MemoryID:  s.memoryIDFor(ctx, userID, convID),
			Title:     deriveTitle(userText, now),
			CreatedAt: now,
		}
	}
	if userText != "" {
		conv.Messages = append(conv.Messages, Message{Role: "user", Content: userText, Timestamp: now})
	}
	if assistantText != "" {
		conv.Messages = append(conv.Messages, Message{Role: "assistant", Content: assistantText, Timestamp: now})
	}
	conv.UpdatedAt = now

	data, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.docKey(userID, convID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(userID), backend.Z{Score: float64(now.Unix()), Member: convID})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.indexKey(userID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}
	return conv, nil
}

// memoryIDFor recovers the numeric suffix of a canonical conversation id, or
// allocates a fresh id when the caller supplied a non-canonical one.
func (s *Store) memoryIDFor(ctx context.Context, userID, convID string) int64 {
	if suffix, ok := strings.CutPrefix(convID, userID+"_"); ok {
		if n, err := strconv.ParseInt(suffix, 10, 64); err == nil {
			return n
		}
	}
	n, err := s.NextID(ctx, userID)
	if err != nil {
		return 0
	}
	return n
}

// List returns conversation summaries for a user, most recently updated
// first. Expired documents are pruned from the index lazily.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]Summary, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	limit = clamp(limit, 1, 200, 50)
	ids, err := s.client.ZRevRange(ctx, s.indexKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		conv, err := s.Get(ctx, userID, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.client.ZRem(ctx, s.indexKey(userID), id)
				continue
			}
			return nil, err
		}
		out = append(out, Summary{
			ID:        conv.ID,
			Type:      conv.Type,
			Title:     conv.Title,
			MemoryID:  conv.MemoryID,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		})
	}
	return out, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func clamp(v, lo, hi, def int) int {
	if v <= 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
