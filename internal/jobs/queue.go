package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// PoisonSuffix is appended to a queue name to form its poison queue.
const PoisonSuffix = "-poison"

// Delivery is a claimed queue message. It must be acked or nacked.
type Delivery struct {
	Message Message

	raw   string
	count int64
}

// DeliveryCount is how many times this message has been claimed, this
// delivery included.
func (d *Delivery) DeliveryCount() int64 { return d.count }

// Queue is a Redis-backed job queue with at-least-once delivery. Claimed
// messages sit on a processing list until acked; a message nacked after
// MaxDeliveries claims moves to the poison queue instead of being retried.
type Queue struct {
	client        *backend.Client
	name          string
	maxDeliveries int64
	log           *slog.Logger
}

type QueueOption func(*Queue)

// WithMaxDeliveries sets how many claims a message gets before it is
// poisoned. Zero disables poisoning.
func WithMaxDeliveries(n int) QueueOption {
	return func(q *Queue) { q.maxDeliveries = int64(n) }
}

func WithQueueLogger(log *slog.Logger) QueueOption {
	return func(q *Queue) { q.log = log }
}

// NewQueue creates a queue named name on an existing Redis client.
func NewQueue(client *backend.Client, name string, opts ...QueueOption) *Queue {
	q := &Queue{
		client:        client,
		name:          name,
		maxDeliveries: 5,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) pendingKey() string    { return "conduit:queue:" + q.name }
func (q *Queue) processingKey() string { return "conduit:queue:" + q.name + ":processing" }
func (q *Queue) deliveriesKey() string { return "conduit:queue:" + q.name + ":deliveries" }
func (q *Queue) poisonKey() string     { return "conduit:queue:" + q.name + PoisonSuffix }

// Enqueue pushes a message on the queue.
func (q *Queue) Enqueue(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode queue message: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", msg.JobID, err)
	}
	return nil
}

// Claim blocks until a message is available or the timeout elapses. A nil
// delivery with a nil error means the wait timed out.
func (q *Queue) Claim(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.pendingKey(), q.processingKey(), "right", "left", timeout).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim from queue %s: %w", q.name, err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		// Undecodable payloads go straight to poison.
		q.log.Warn("poisoning undecodable queue message", "queue", q.name, "error", err)
		q.poisonRaw(ctx, raw)
		return nil, nil
	}
	count, err := q.client.HIncrBy(ctx, q.deliveriesKey(), msg.JobID, 1).Result()
	if err != nil {
		count = 1
	}
	return &Delivery{Message: msg, raw: raw, count: count}, nil
}

// Ack removes a processed message.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.processingKey(), 1, d.raw)
	pipe.HDel(ctx, q.deliveriesKey(), d.Message.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", d.Message.JobID, err)
	}
	return nil
}

// Nack returns a failed message to the queue for another attempt, or moves
// it to the poison queue once it has exhausted its deliveries. The second
// return reports whether the message was poisoned.
func (q *Queue) Nack(ctx context.Context, d *Delivery) (bool, error) {
	if q.maxDeliveries > 0 && d.count >= q.maxDeliveries {
		pipe := q.client.Pipeline()
		pipe.LRem(ctx, q.processingKey(), 1, d.raw)
		pipe.LPush(ctx, q.poisonKey(), d.raw)
		pipe.HDel(ctx, q.deliveriesKey(), d.Message.JobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("failed to poison job %s: %w", d.Message.JobID, err)
		}
		q.log.Warn("job moved to poison queue", "queue", q.name, "job_id", d.Message.JobID, "deliveries", d.count)
		return true, nil
	}
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.processingKey(), 1, d.raw)
	pipe.LPush(ctx, q.pendingKey(), d.raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to requeue job %s: %w", d.Message.JobID, err)
	}
	return false, nil
}

func (q *Queue) poisonRaw(ctx context.Context, raw string) {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.processingKey(), 1, raw)
	pipe.LPush(ctx, q.poisonKey(), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("failed to poison message", "queue", q.name, "error", err)
	}
}

// Length reports the number of pending messages.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

// PoisonLength reports the number of poisoned messages.
func (q *Queue) PoisonLength(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.poisonKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read poison queue length: %w", err)
	}
	return n, nil
}

// Clear empties the queue and its bookkeeping. Clearing an already empty
// queue succeeds and reports zero removed messages.
func (q *Queue) Clear(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to clear queue %s: %w", q.name, err)
	}
	if err := q.client.Del(ctx, q.pendingKey(), q.processingKey(), q.deliveriesKey()).Err(); err != nil {
		return 0, fmt.Errorf("failed to clear queue %s: %w", q.name, err)
	}
	return n, nil
}

// ClearPoison empties the poison queue.
func (q *Queue) ClearPoison(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.poisonKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to clear poison queue %s: %w", q.name, err)
	}
	if err := q.client.Del(ctx, q.poisonKey()).Err(); err != nil {
		return 0, fmt.Errorf("failed to clear poison queue %s: %w", q.name, err)
	}
	return n, nil
}
