package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/queue"
	"github.com/rendis/cascade/internal/state"
	"github.com/rendis/cascade/internal/template"
	"github.com/rendis/cascade/pkg/schema"
)

// Scheduler converts "dependencies satisfied" into dispatched tasks. It is
// the single dispatch point: safe to invoke repeatedly and concurrently for
// the same execution, because the atomic PENDING -> QUEUED swap in the state
// manager is the sole guard against double-dispatch.
type Scheduler struct {
	state    *state.Manager
	queue    *queue.Queue
	resolver *template.Resolver
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(st *state.Manager, q *queue.Queue, resolver *template.Resolver, logger *slog.Logger) *Scheduler {
	return &Scheduler{state: st, queue: q, resolver: resolver, logger: logger}
}

// ScheduleReadyNodes dispatches every node whose status is PENDING and whose
// dependencies are all COMPLETED. Nodes in any other state, or with unmet
// dependencies, are skipped silently. An absent status record is initialized
// as PENDING (first-run safety net).
func (s *Scheduler) ScheduleReadyNodes(ctx context.Context, executionID string) error {
	ctx = logging.WithExecutionID(ctx, executionID)
	log := logging.LogWith(ctx, s.logger)

	wf, err := s.state.LoadWorkflow(ctx, executionID)
	if err != nil {
		return err
	}

	for _, node := range wf.Nodes {
		status, err := s.state.GetNodeStatus(ctx, executionID, node.ID)
		if schema.IsNotFound(err) {
			if err := s.state.SetNodeStatus(ctx, executionID, node.ID, schema.NodeStatusPending, ""); err != nil {
				return err
			}
			status = schema.NodeStatusPending
		} else if err != nil {
			return err
		}

		if status != schema.NodeStatusPending {
			continue
		}

		ready, err := s.state.AllDependenciesSucceeded(ctx, executionID, node.Dependencies)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}

		resolved, err := s.resolver.Resolve(ctx, executionID, node.Config)
		if err != nil {
			return err
		}

		queued, err := s.state.MarkQueued(ctx, executionID, node.ID)
		if err != nil {
			return err
		}
		if !queued {
			// A concurrent scheduler invocation won the race for this node.
			log.Debug("node already claimed", slog.String("node_id", node.ID))
			continue
		}

		task := &schema.TaskMessage{
			ExecutionID: executionID,
			NodeID:      node.ID,
			Payload: schema.TaskPayload{
				Handler: node.Handler,
				Config:  resolved,
			},
		}
		if err := s.queue.Publish(ctx, task); err != nil {
			return err
		}
		log.Info("node dispatched",
			slog.String("node_id", node.ID),
			slog.String("handler", node.Handler),
		)
	}
	return nil
}
