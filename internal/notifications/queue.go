package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

// ErrQueueFull is returned when an in-memory queue cannot take more events
var ErrQueueFull = errors.New("notification queue full")

// Queue carries workflow events from the engine to delivery workers
type Queue interface {
	Enqueue(ctx context.Context, event workflow.Event) error
	// Dequeue blocks until an event is available or ctx is done
	Dequeue(ctx context.Context) (workflow.Event, error)
}

// MemoryQueue is a bounded in-process queue
type MemoryQueue struct {
	events chan workflow.Event
}

// NewMemoryQueue creates a queue holding up to size events
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{events: make(chan workflow.Event, size)}
}

// Enqueue never blocks; a full queue drops the event
func (q *MemoryQueue) Enqueue(_ context.Context, event workflow.Event) error {
	select {
	case q.events <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (workflow.Event, error) {
	select {
	case event := <-q.events:
		return event, nil
	case <-ctx.Done():
		return workflow.Event{}, ctx.Err()
	}
}

// Len returns the number of buffered events
func (q *MemoryQueue) Len() int { return len(q.events) }

// RedisQueue is a list-backed queue shared between the API and worker processes
type RedisQueue struct {
	client      redis.UniversalClient
	key         string
	pollTimeout time.Duration
}

// NewRedisQueue creates a queue on the list at key
func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, pollTimeout: 5 * time.Second}
}

func (q *RedisQueue) Enqueue(ctx context.Context, event workflow.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (workflow.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return workflow.Event{}, err
		}
		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return workflow.Event{}, ctx.Err()
			}
			return workflow.Event{}, fmt.Errorf("failed to dequeue event: %w", err)
		}
		// res is [key, value]
		var event workflow.Event
		if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
			return workflow.Event{}, fmt.Errorf("failed to decode event: %w", err)
		}
		return event, nil
	}
}
