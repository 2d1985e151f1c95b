package store

import (
	"context"
	"time"
)

// StreamMessage is one entry read from a stream consumer group.
type StreamMessage struct {
	ID     string
	Values map[string]string
}

// Store is the shared key/value + durable-stream substrate every scheduler
// and worker process coordinates through. Implementations must be safe for
// concurrent use; every operation is a single atomic request against the
// backing store.
type Store interface {
	// Key/value
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	SetJSON(ctx context.Context, key string, value any) error
	GetJSON(ctx context.Context, key string, dest any) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error

	// CompareAndSwap atomically replaces the value at key with next iff the
	// current value equals expected. Returns false without writing when the
	// key is absent or holds a different value.
	CompareAndSwap(ctx context.Context, key, expected, next string) (bool, error)

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Streams (consumer-group semantics)
	XAdd(ctx context.Context, stream string, values map[string]any) (string, error)
	XGroupCreate(ctx context.Context, stream, group string) error
	XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error)
	XAck(ctx context.Context, stream, group string, ids ...string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
