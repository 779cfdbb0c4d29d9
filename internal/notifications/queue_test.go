package notifications

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()

	first := workflow.Event{ID: uuid.New(), Kind: workflow.EventStationEntered}
	second := workflow.Event{ID: uuid.New(), Kind: workflow.EventRequestCompleted}

	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))
	assert.ErrorIs(t, q.Enqueue(ctx, workflow.Event{ID: uuid.New()}), ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestMemoryQueue_DequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	key := "servicedesk:test:" + uuid.NewString()
	defer client.Del(ctx, key)

	q := NewRedisQueue(client, key)
	event := workflow.Event{
		ID:           uuid.New(),
		Kind:         workflow.EventStationEntered,
		RequestID:    uuid.New(),
		RequestTitle: "Leaking pipe",
		Recipients:   []workflow.Recipient{{UserID: uuid.New(), Name: "Bob"}},
	}
	require.NoError(t, q.Enqueue(ctx, event))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, event.RequestTitle, got.RequestTitle)
	require.Len(t, got.Recipients, 1)
	assert.Equal(t, "Bob", got.Recipients[0].Name)
}
