package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.NotEmpty(t, cfg.ConsumerName)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CASCADE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CASCADE_REDIS_DB", "3")
	t.Setenv("CASCADE_LOG_LEVEL", "debug")
	t.Setenv("CASCADE_POOL_SIZE", "32")
	t.Setenv("CASCADE_CONSUMER_NAME", "worker-a")
	t.Setenv("CASCADE_POLL_INTERVAL", "250ms")

	cfg := loadConfig()
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 32, cfg.PoolSize)
	assert.Equal(t, "worker-a", cfg.ConsumerName)
	assert.Equal(t, 250*time.Millisecond, cfg.pollInterval())
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("CASCADE_REDIS_DB", "not-a-number")
	t.Setenv("CASCADE_POOL_SIZE", "also-not")
	t.Setenv("CASCADE_POLL_INTERVAL", "garbage")
	t.Setenv("CASCADE_BLOCK_TIMEOUT", "-5s")

	cfg := loadConfig()
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, time.Second, cfg.pollInterval())
	assert.Equal(t, 5*time.Second, cfg.blockTimeout())
}

func TestDurationFallbacks(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, time.Second, cfg.pollInterval())
	assert.Equal(t, 5*time.Second, cfg.blockTimeout())
}
