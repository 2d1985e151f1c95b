package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all cascade server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	LogLevel      string `json:"log_level"`
	PoolSize      int    `json:"pool_size"`
	ConsumerName  string `json:"consumer_name"`
	PollInterval  string `json:"poll_interval"`
	BlockTimeout  string `json:"block_timeout"`
}

func defaultConfig() Config {
	return Config{
		RedisAddr:    "localhost:6379",
		LogLevel:     "info",
		PoolSize:     10,
		ConsumerName: defaultConsumerName(),
		PollInterval: "1s",
		BlockTimeout: "5s",
	}
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil {
		return "worker-1"
	}
	return "worker-" + host
}

func cascadeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cascade"
	}
	return filepath.Join(home, ".cascade")
}

func settingsPath() string {
	return filepath.Join(cascadeDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CASCADE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("CASCADE_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CASCADE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("CASCADE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CASCADE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("CASCADE_CONSUMER_NAME"); v != "" {
		cfg.ConsumerName = v
	}
	if v := os.Getenv("CASCADE_POLL_INTERVAL"); v != "" {
		cfg.PollInterval = v
	}
	if v := os.Getenv("CASCADE_BLOCK_TIMEOUT"); v != "" {
		cfg.BlockTimeout = v
	}

	return cfg
}

// pollInterval parses the configured starter interval, falling back to 1s.
func (c Config) pollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// blockTimeout parses the configured queue block timeout, falling back to 5s.
func (c Config) blockTimeout() time.Duration {
	d, err := time.ParseDuration(c.BlockTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}
