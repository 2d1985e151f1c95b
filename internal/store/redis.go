package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/cascade/pkg/schema"
)

// casScript atomically swaps a key's value iff it still holds the expected
// one. This is the sole dispatch guard for the PENDING -> QUEUED transition.
const casScript = `local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2])
  return 1
end
return 0`

// RedisStore implements Store on a single Redis instance. All engine
// coordination (conditional writes, consumer-group claims, set membership)
// is delegated to Redis atomic primitives; the struct itself holds no
// mutable state.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisStore creates a store backed by the given address and database.
// The connection is verified with a ping before use.
func NewRedisStore(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, schema.NewErrorf(schema.ErrCodeTransport, "ping redis at %s: %s", addr, err.Error()).WithCause(err)
	}

	logger.Info("redis connection established", slog.String("addr", addr), slog.Int("db", db))
	return &RedisStore{client: client, logger: logger}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests with an
// embedded miniredis server.
func NewRedisStoreFromClient(client redis.UniversalClient, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return transportErr("set", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "key %q not found", key)
	}
	if err != nil {
		return "", transportErr("get", key, err)
	}
	return val, nil
}

func (s *RedisStore) SetJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal value for %q: %s", key, err.Error()).WithCause(err)
	}
	return s.Set(ctx, key, string(raw))
}

func (s *RedisStore) GetJSON(ctx context.Context, key string, dest any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "unmarshal value at %q: %s", key, err.Error()).WithCause(err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, transportErr("exists", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return transportErr("del", keys[0], err)
	}
	return nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key, expected, next string) (bool, error) {
	res, err := s.client.Eval(ctx, casScript, []string{key}, expected, next).Int64()
	if err != nil {
		return false, transportErr("cas", key, err)
	}
	return res == 1, nil
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SAdd(ctx, key, args...).Err(); err != nil {
		return transportErr("sadd", key, err)
	}
	return nil
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SRem(ctx, key, args...).Err(); err != nil {
		return transportErr("srem", key, err)
	}
	return nil
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, transportErr("smembers", key, err)
	}
	return members, nil
}

func (s *RedisStore) XAdd(ctx context.Context, stream string, values map[string]any) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", transportErr("xadd", stream, err)
	}
	return id, nil
}

// XGroupCreate creates the consumer group, creating the stream if needed.
// An already-existing group is not an error.
func (s *RedisStore) XGroupCreate(ctx context.Context, stream, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return transportErr("xgroup create", stream, err)
	}
	return nil
}

// XReadGroup block-reads up to count new messages for the consumer. A read
// that times out with no messages returns an empty slice, not an error.
func (s *RedisStore) XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, transportErr("xreadgroup", stream, err)
	}

	var messages []StreamMessage
	for _, str := range res {
		for _, msg := range str.Messages {
			values := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				if sv, ok := v.(string); ok {
					values[k] = sv
				}
			}
			messages = append(messages, StreamMessage{ID: msg.ID, Values: values})
		}
	}
	return messages, nil
}

func (s *RedisStore) XAck(ctx context.Context, stream, group string, ids ...string) error {
	if err := s.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return transportErr("xack", stream, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return transportErr("ping", "", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func transportErr(op, key string, err error) error {
	if key != "" {
		return schema.NewErrorf(schema.ErrCodeTransport, "redis %s %q: %s", op, key, err.Error()).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeTransport, "redis %s: %s", op, err.Error()).WithCause(err)
}
