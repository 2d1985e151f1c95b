package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/queue"
	"github.com/rendis/cascade/internal/registry"
	"github.com/rendis/cascade/internal/state"
	"github.com/rendis/cascade/pkg/schema"
)

// ConsumerOptions tunes one worker consumer.
type ConsumerOptions struct {
	// Name identifies this consumer within the group.
	Name string
	// Batch is the max number of messages claimed per poll.
	Batch int64
	// Block is how long a poll waits for new messages.
	Block time.Duration
	// Backoff is the pause after a transport failure before re-polling.
	Backoff time.Duration
}

func (o *ConsumerOptions) defaults() {
	if o.Name == "" {
		o.Name = "worker-1"
	}
	if o.Batch <= 0 {
		o.Batch = 10
	}
	if o.Block <= 0 {
		o.Block = 5 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 5 * time.Second
	}
}

// Consumer pulls tasks from the queue through the consumer group and
// executes them. The status re-check before execution converts the queue's
// at-least-once delivery into effectively-once node execution: a redelivered
// task whose node is no longer QUEUED is acknowledged without running the
// handler.
type Consumer struct {
	queue    *queue.Queue
	state    *state.Manager
	registry *registry.Registry
	pool     *Pool
	logger   *slog.Logger
	opts     ConsumerOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer creates a Consumer.
func NewConsumer(q *queue.Queue, st *state.Manager, reg *registry.Registry, pool *Pool, logger *slog.Logger, opts ConsumerOptions) *Consumer {
	opts.defaults()
	return &Consumer{
		queue:    q,
		state:    st,
		registry: reg,
		pool:     pool,
		logger:   logger,
		opts:     opts,
	}
}

// Start creates the consumer group if needed and launches the poll loop.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return fmt.Errorf("consumer already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	if err := c.queue.EnsureGroup(loopCtx); err != nil {
		cancel()
		c.mu.Lock()
		close(c.done)
		c.cancel, c.done = nil, nil
		c.mu.Unlock()
		return err
	}

	go c.loop(loopCtx)
	c.logger.Info("worker consumer started", slog.String("consumer", c.opts.Name))
	return nil
}

// Stop cancels the poll loop and waits for in-flight handlers to finish.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.pool.Wait()
	c.cancel = nil
	c.done = nil
	c.logger.Info("worker consumer stopped", slog.String("consumer", c.opts.Name))
}

func (c *Consumer) loop(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			return
		}

		deliveries, err := c.queue.Read(ctx, c.opts.Name, c.opts.Batch, c.opts.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("task read failed, backing off",
				slog.String("consumer", c.opts.Name),
				slog.String("error", err.Error()),
			)
			if !sleepCtx(ctx, c.opts.Backoff) {
				return
			}
			continue
		}

		for _, d := range deliveries {
			if err := c.pool.Submit(ctx, func(ctx context.Context) error {
				return c.handle(ctx, d)
			}); err != nil {
				// Pool shut down or context cancelled; the unacked message
				// stays pending and will be redelivered.
				return
			}
		}
	}
}

// handle processes one delivery and acknowledges it in all cases except a
// transport failure, where the message is left pending for redelivery.
func (c *Consumer) handle(ctx context.Context, d queue.Delivery) error {
	err := c.process(ctx, d)
	if err != nil && schema.IsTransport(err) {
		logging.LogWith(ctx, c.logger).Error("task left pending after transport failure",
			slog.String("message_id", d.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	if ackErr := c.queue.Ack(ctx, d.ID); ackErr != nil {
		c.logger.Error("task ack failed",
			slog.String("message_id", d.ID),
			slog.String("error", ackErr.Error()),
		)
	}
	return err
}

// process executes the node behind one task message. Only transport errors
// propagate; every domain failure is absorbed into the node's FAILED record.
func (c *Consumer) process(ctx context.Context, d queue.Delivery) error {
	executionID, nodeID := d.Task.ExecutionID, d.Task.NodeID
	ctx = logging.WithNodeID(logging.WithExecutionID(ctx, executionID), nodeID)
	log := logging.LogWith(ctx, c.logger)

	status, err := c.state.GetNodeStatus(ctx, executionID, nodeID)
	if err != nil {
		if schema.IsTransport(err) {
			return err
		}
		// A task for a record that no longer resolves cannot make progress;
		// ack and drop it.
		log.Error("task references unreadable node record", slog.String("error", err.Error()))
		return nil
	}

	if status != schema.NodeStatusQueued {
		log.Debug("skipping duplicate delivery", slog.String("status", string(status)))
		return nil
	}

	if err := c.state.SetNodeStatus(ctx, executionID, nodeID, schema.NodeStatusRunning, ""); err != nil {
		return err
	}

	output, execErr := c.execute(ctx, d.Task.Payload)
	if execErr != nil {
		log.Warn("node failed", slog.String("error", execErr.Error()))
		return c.state.SetNodeStatus(ctx, executionID, nodeID, schema.NodeStatusFailed, execErr.Error())
	}

	if err := c.state.SetNodeOutput(ctx, executionID, nodeID, output); err != nil {
		return err
	}
	if err := c.state.SetNodeStatus(ctx, executionID, nodeID, schema.NodeStatusCompleted, ""); err != nil {
		return err
	}
	log.Info("node completed", slog.String("handler", d.Task.Payload.Handler))
	return nil
}

// execute resolves the handler and runs it, converting a panic into a
// handler error so a misbehaving handler can never crash the worker.
func (c *Consumer) execute(ctx context.Context, payload schema.TaskPayload) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = schema.NewErrorf(schema.ErrCodeHandler, "handler panic: %v", r)
		}
	}()

	handler, err := c.registry.Get(payload.Handler)
	if err != nil {
		return nil, err
	}
	return handler.Execute(ctx, payload.Config)
}

// sleepCtx sleeps for d or until the context is cancelled. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
