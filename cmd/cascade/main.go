package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/cascade/internal/engine"
	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/queue"
	"github.com/rendis/cascade/internal/registry"
	"github.com/rendis/cascade/internal/state"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/internal/template"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("cascade exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer st.Close()

	stateMgr := state.NewManager(st, logger)
	taskQueue := queue.New(st, logger)

	reg := registry.NewRegistry()
	if err := registry.RegisterBuiltins(reg); err != nil {
		return fmt.Errorf("register built-in handlers: %w", err)
	}

	resolver := template.NewResolver(stateMgr)
	scheduler := engine.NewScheduler(stateMgr, taskQueue, resolver, logger)
	eng := engine.NewEngine(stateMgr, scheduler, reg, logger)

	pool := engine.NewPool(cfg.PoolSize)
	consumer := engine.NewConsumer(taskQueue, stateMgr, reg, pool, logger, engine.ConsumerOptions{
		Name:  cfg.ConsumerName,
		Block: cfg.blockTimeout(),
	})
	starter := engine.NewStarter(stateMgr, scheduler, logger, cfg.pollInterval())
	recurring := engine.NewRecurring(st, eng, logger)

	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start worker consumer: %w", err)
	}
	if err := starter.Start(ctx); err != nil {
		consumer.Stop()
		return fmt.Errorf("start workflow starter: %w", err)
	}
	if err := recurring.Start(ctx); err != nil {
		starter.Stop()
		consumer.Stop()
		return fmt.Errorf("start recurring scheduler: %w", err)
	}

	logger.Info("cascade engine running",
		slog.String("redis_addr", cfg.RedisAddr),
		slog.String("consumer", cfg.ConsumerName),
		slog.Int("pool_size", cfg.PoolSize),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	recurring.Stop()
	starter.Stop()
	consumer.Stop()
	pool.Shutdown()

	logger.Info("cascade engine stopped")
	return nil
}

// newLogger builds the process logger: JSON output with correlation IDs
// injected from the context on every record.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
