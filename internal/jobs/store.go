package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no state exists for a job id.
var ErrNotFound = errors.New("job not found")

// Store persists job state and the originating request, keyed by job id.
// Both records share the queue TTL so abandoned jobs clean themselves up.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type StoreOption func(*Store)

// WithStoreTTL sets the expiration for job records.
func WithStoreTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// WithStorePrefix sets the key prefix.
func WithStorePrefix(prefix string) StoreOption {
	return func(s *Store) { s.prefix = prefix }
}

// WithStoreClock overrides the time source (tests).
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a job store from an existing Redis client.
func NewStore(client *backend.Client, opts ...StoreOption) *Store {
	s := &Store{
		client: client,
		prefix: "conduit:job:",
		ttl:    time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) stateKey(jobID string) string   { return s.prefix + "state:" + jobID }
func (s *Store) requestKey(jobID string) string { return s.prefix + "request:" + jobID }

// Create writes the initial queued state and the request sidecar. Optional
// mutators fill in fields known at enqueue time, such as the routed mode.
func (s *Store) Create(ctx context.Context, jobID string, req map[string]any, message string, mutate ...func(*State)) (*State, error) {
	now := s.now().UTC()
	state := &State{
		Status:    StatusQueued,
		Progress:  0,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, fn := range mutate {
		fn(state)
	}
	stateData, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job state: %w", err)
	}
	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job request: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.stateKey(jobID), stateData, s.ttl)
	pipe.Set(ctx, s.requestKey(jobID), reqData, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create job %s: %w", jobID, err)
	}
	return state, nil
}

// Get loads the current state of a job. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, jobID string) (*State, error) {
	val, err := s.client.Get(ctx, s.stateKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	var state State
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job state: %w", err)
	}
	return &state, nil
}

// Request loads the request sidecar of a job.
func (s *Store) Request(ctx context.Context, jobID string) (map[string]any, error) {
	val, err := s.client.Get(ctx, s.requestKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job request %s: %w", jobID, err)
	}
	var req map[string]any
	if err := json.Unmarshal([]byte(val), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job request: %w", err)
	}
	return req, nil
}

// Update applies fn to the stored state and writes it back. Missing state
// starts from a zero record so late progress updates are never lost.
func (s *Store) Update(ctx context.Context, jobID string, fn func(*State)) (*State, error) {
	state, err := s.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		state = &State{CreatedAt: s.now().UTC()}
	}
	fn(state)
	state.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job state: %w", err)
	}
	if err := s.client.Set(ctx, s.stateKey(jobID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return state, nil
}
