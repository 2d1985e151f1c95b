package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

// Delivery is one claimed task message. ID is the stream entry ID used for
// acknowledgment.
type Delivery struct {
	ID   string
	Task schema.TaskMessage
}

// Queue is the durable task queue: an append-only stream with consumer-group
// fan-out. Each message is delivered to exactly one consumer within the
// group and stays on the group's pending list until acknowledged, so
// delivery is at-least-once; the worker's status re-check turns that into
// effectively-once execution.
type Queue struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Queue over the given store.
func New(s store.Store, logger *slog.Logger) *Queue {
	return &Queue{store: s, logger: logger}
}

// EnsureGroup creates the worker consumer group, creating the stream if
// needed. Idempotent; every worker calls it at startup.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	return q.store.XGroupCreate(ctx, store.TaskStream, store.TaskGroup)
}

// Publish appends a task message to the stream.
func (q *Queue) Publish(ctx context.Context, task *schema.TaskMessage) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal task payload").
			WithNode(task.NodeID).WithCause(err)
	}

	id, err := q.store.XAdd(ctx, store.TaskStream, map[string]any{
		"execution_id": task.ExecutionID,
		"node_id":      task.NodeID,
		"payload":      string(payload),
	})
	if err != nil {
		return err
	}

	q.logger.Debug("task published",
		slog.String("execution_id", task.ExecutionID),
		slog.String("node_id", task.NodeID),
		slog.String("message_id", id),
	)
	return nil
}

// Read block-reads up to count new messages for the named consumer.
// Messages that cannot be parsed are acknowledged and dropped: redelivering
// a malformed entry can never succeed.
func (q *Queue) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]Delivery, error) {
	messages, err := q.store.XReadGroup(ctx, store.TaskStream, store.TaskGroup, consumer, count, block)
	if err != nil {
		return nil, err
	}

	deliveries := make([]Delivery, 0, len(messages))
	for _, msg := range messages {
		task, err := parseTask(msg.Values)
		if err != nil {
			q.logger.Error("dropping malformed task message",
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()),
			)
			_ = q.Ack(ctx, msg.ID)
			continue
		}
		deliveries = append(deliveries, Delivery{ID: msg.ID, Task: *task})
	}
	return deliveries, nil
}

// Ack removes messages from the group's pending list.
func (q *Queue) Ack(ctx context.Context, ids ...string) error {
	return q.store.XAck(ctx, store.TaskStream, store.TaskGroup, ids...)
}

func parseTask(values map[string]string) (*schema.TaskMessage, error) {
	executionID := values["execution_id"]
	nodeID := values["node_id"]
	if executionID == "" || nodeID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "task message missing execution_id or node_id")
	}

	var payload schema.TaskPayload
	if err := json.Unmarshal([]byte(values["payload"]), &payload); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode task payload: %s", err.Error()).
			WithNode(nodeID).WithCause(err)
	}

	return &schema.TaskMessage{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Payload:     payload,
	}, nil
}
