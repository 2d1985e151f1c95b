package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

func newTestQueue(t testing.TB) (*Queue, store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStoreFromClient(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return New(s, slog.New(slog.NewTextHandler(io.Discard, nil))), s
}

func TestQueue_PublishAndRead(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	require.NoError(t, q.EnsureGroup(ctx))

	t.Run("Should round-trip a task message through the stream", func(t *testing.T) {
		task := &schema.TaskMessage{
			ExecutionID: "exec-1",
			NodeID:      "fetch",
			Payload: schema.TaskPayload{
				Handler: "call_external_service",
				Config:  map[string]any{"url": "http://x/abc-123"},
			},
		}
		require.NoError(t, q.Publish(ctx, task))

		deliveries, err := q.Read(ctx, "c1", 10, 10*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		assert.Equal(t, *task, deliveries[0].Task)
		require.NotEmpty(t, deliveries[0].ID)

		require.NoError(t, q.Ack(ctx, deliveries[0].ID))
	})

	t.Run("Should not redeliver a claimed message to the group", func(t *testing.T) {
		deliveries, err := q.Read(ctx, "c2", 10, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, deliveries)
	})
}

func TestQueue_MalformedMessages(t *testing.T) {
	ctx := context.Background()
	q, s := newTestQueue(t)
	require.NoError(t, q.EnsureGroup(ctx))

	t.Run("Should drop and acknowledge entries with a broken payload", func(t *testing.T) {
		_, err := s.XAdd(ctx, store.TaskStream, map[string]any{
			"execution_id": "exec-1",
			"node_id":      "n1",
			"payload":      "{not json",
		})
		require.NoError(t, err)

		deliveries, err := q.Read(ctx, "c1", 10, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, deliveries)

		// The malformed entry was acked, so nothing is redelivered.
		deliveries, err = q.Read(ctx, "c1", 10, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, deliveries)
	})

	t.Run("Should drop entries missing identifiers", func(t *testing.T) {
		_, err := s.XAdd(ctx, store.TaskStream, map[string]any{
			"payload": `{"handler":"noop","config":{}}`,
		})
		require.NoError(t, err)

		deliveries, err := q.Read(ctx, "c1", 10, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, deliveries)
	})
}

func TestQueue_EnsureGroupIdempotent(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.EnsureGroup(ctx))
	require.NoError(t, q.EnsureGroup(ctx))
}
