package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/internal/queue"
	"github.com/rendis/cascade/internal/registry"
	"github.com/rendis/cascade/internal/state"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/internal/template"
	"github.com/rendis/cascade/pkg/schema"
)

// testEnv wires the full engine stack over an in-memory Redis.
type testEnv struct {
	mr        *miniredis.Miniredis
	store     *store.RedisStore
	state     *state.Manager
	queue     *queue.Queue
	registry  *registry.Registry
	scheduler *Scheduler
	engine    *Engine
	logger    *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewRedisStoreFromClient(client, logger)
	sm := state.NewManager(st, logger)
	q := queue.New(st, logger)
	reg := registry.NewRegistry()
	sched := NewScheduler(sm, q, template.NewResolver(sm), logger)

	return &testEnv{
		mr:        mr,
		store:     st,
		state:     sm,
		queue:     q,
		registry:  reg,
		scheduler: sched,
		engine:    NewEngine(sm, sched, reg, logger),
		logger:    logger,
	}
}

// newConsumer builds a worker consumer over the env with a small pool.
func (env *testEnv) newConsumer(t *testing.T) *Consumer {
	t.Helper()
	return NewConsumer(env.queue, env.state, env.registry, NewPool(4), env.logger, ConsumerOptions{Name: "test-worker"})
}

// drainOnce reads all currently claimable messages and handles each one
// synchronously. Returns how many deliveries were processed.
func (env *testEnv) drainOnce(t *testing.T, c *Consumer) int {
	t.Helper()
	ctx := context.Background()

	if err := c.queue.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	// Negative block makes the group read non-blocking.
	deliveries, err := env.queue.Read(ctx, c.opts.Name, 100, -1)
	if err != nil {
		t.Fatalf("read deliveries: %v", err)
	}
	for _, d := range deliveries {
		_ = c.handle(ctx, d)
	}
	return len(deliveries)
}

// runToCompletion alternates scheduling and draining until no progress is
// made, mimicking the starter plus worker loops without background
// goroutines.
func (env *testEnv) runToCompletion(t *testing.T, c *Consumer, executionID string, maxRounds int) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < maxRounds; i++ {
		if err := env.scheduler.ScheduleReadyNodes(ctx, executionID); err != nil {
			t.Fatalf("schedule: %v", err)
		}
		if env.drainOnce(t, c) == 0 {
			return
		}
	}
}

// recordingHandler counts invocations and returns a canned output or error.
type recordingHandler struct {
	name     string
	out      map[string]any
	err      error
	panicMsg string

	mu      sync.Mutex
	calls   int
	configs []map[string]any
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Execute(_ context.Context, config map[string]any) (map[string]any, error) {
	h.mu.Lock()
	h.calls++
	h.configs = append(h.configs, config)
	h.mu.Unlock()

	if h.panicMsg != "" {
		panic(h.panicMsg)
	}
	if h.err != nil {
		return nil, h.err
	}
	if h.out != nil {
		return h.out, nil
	}
	return map[string]any{"status": "ok"}, nil
}

func (h *recordingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *recordingHandler) lastConfig() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.configs) == 0 {
		return nil
	}
	return h.configs[len(h.configs)-1]
}

// driveNode walks a node forward along the legal transition chain until it
// reaches target. Used by tests to stage upstream state without a worker.
func (env *testEnv) driveNode(t *testing.T, executionID, nodeID string, target schema.NodeStatus, errMsg string) {
	t.Helper()
	ctx := context.Background()

	for {
		cur, err := env.state.GetNodeStatus(ctx, executionID, nodeID)
		require.NoError(t, err)
		if cur == target {
			return
		}
		switch cur {
		case schema.NodeStatusPending:
			queued, err := env.state.MarkQueued(ctx, executionID, nodeID)
			require.NoError(t, err)
			require.True(t, queued)
		case schema.NodeStatusQueued:
			require.NoError(t, env.state.SetNodeStatus(ctx, executionID, nodeID, schema.NodeStatusRunning, ""))
		case schema.NodeStatusRunning:
			msg := ""
			if target == schema.NodeStatusFailed {
				msg = errMsg
			}
			require.NoError(t, env.state.SetNodeStatus(ctx, executionID, nodeID, target, msg))
		default:
			t.Fatalf("cannot drive node %s from %s to %s", nodeID, cur, target)
		}
	}
}

func (env *testEnv) completeNode(t *testing.T, executionID, nodeID string) {
	env.driveNode(t, executionID, nodeID, schema.NodeStatusCompleted, "")
}

func (env *testEnv) failNode(t *testing.T, executionID, nodeID, errMsg string) {
	env.driveNode(t, executionID, nodeID, schema.NodeStatusFailed, errMsg)
}

// submitAndInit stores a workflow with all nodes PENDING and returns its
// execution ID.
func (env *testEnv) submitAndInit(t *testing.T, nodes []schema.DAGNode) string {
	t.Helper()
	executionID, err := env.engine.Submit(context.Background(), "test-workflow", nodes)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return executionID
}
