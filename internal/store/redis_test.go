package store

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

	"github.com/rendis/cascade/pkg/schema"
)

func newTestStore(t testing.TB) *RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewRedisStoreFromClient(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRedisStore_KV(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("Should set and get string values", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", "v"))
		val, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", val)
	})

	t.Run("Should return NOT_FOUND for a missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		require.Error(t, err)
		assert.True(t, schema.IsNotFound(err))
	})

	t.Run("Should round-trip JSON values", func(t *testing.T) {
		in := map[string]any{"id": "abc-123", "count": float64(3)}
		require.NoError(t, s.SetJSON(ctx, "j", in))

		var out map[string]any
		require.NoError(t, s.GetJSON(ctx, "j", &out))
		assert.Equal(t, in, out)
	})

	t.Run("Should report key existence", func(t *testing.T) {
		ok, err := s.Exists(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Exists(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRedisStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("Should swap when the current value matches", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "status", `{"status":"PENDING"}`))

		swapped, err := s.CompareAndSwap(ctx, "status", `{"status":"PENDING"}`, `{"status":"QUEUED"}`)
		require.NoError(t, err)
		assert.True(t, swapped)

		val, err := s.Get(ctx, "status")
		require.NoError(t, err)
		assert.Equal(t, `{"status":"QUEUED"}`, val)
	})

	t.Run("Should refuse to swap a stale value", func(t *testing.T) {
		swapped, err := s.CompareAndSwap(ctx, "status", `{"status":"PENDING"}`, `{"status":"QUEUED"}`)
		require.NoError(t, err)
		assert.False(t, swapped)
	})

	t.Run("Should refuse to swap a missing key", func(t *testing.T) {
		swapped, err := s.CompareAndSwap(ctx, "absent", "a", "b")
		require.NoError(t, err)
		assert.False(t, swapped)
	})
}

func TestRedisStore_Sets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("Should add, list and remove members", func(t *testing.T) {
		require.NoError(t, s.SAdd(ctx, "active", "a", "b"))

		members, err := s.SMembers(ctx, "active")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, members)

		require.NoError(t, s.SRem(ctx, "active", "a"))
		members, err = s.SMembers(ctx, "active")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, members)
	})
}

func TestRedisStore_Streams(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("Should deliver each message to the group exactly once per claim", func(t *testing.T) {
		require.NoError(t, s.XGroupCreate(ctx, "tasks", "workers"))
		// Creating the group twice must not fail.
		require.NoError(t, s.XGroupCreate(ctx, "tasks", "workers"))

		id, err := s.XAdd(ctx, "tasks", map[string]any{"node_id": "n1"})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		msgs, err := s.XReadGroup(ctx, "tasks", "workers", "c1", 10, 10*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "n1", msgs[0].Values["node_id"])

		// A second group read sees no new messages.
		msgs, err = s.XReadGroup(ctx, "tasks", "workers", "c1", 10, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		require.NoError(t, s.XAck(ctx, "tasks", "workers", id))
	})
}
