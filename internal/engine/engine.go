package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/registry"
	"github.com/rendis/cascade/internal/state"
	"github.com/rendis/cascade/internal/validation"
	"github.com/rendis/cascade/pkg/schema"
)

// Engine is the public orchestration surface: workflow submission,
// triggering, status and result retrieval. Execution itself is carried by
// the Scheduler, Starter and Consumer components wired around the same
// state manager and queue.
type Engine struct {
	state     *state.Manager
	scheduler *Scheduler
	registry  *registry.Registry
	validator *validation.SubmissionValidator
	logger    *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(st *state.Manager, sched *Scheduler, reg *registry.Registry, logger *slog.Logger) *Engine {
	return &Engine{
		state:     st,
		scheduler: sched,
		registry:  reg,
		validator: validation.NewSubmissionValidator(),
		logger:    logger,
	}
}

// Submit validates a workflow definition, assigns it a fresh execution ID,
// persists it and initializes every node as PENDING. The workflow does not
// run until Trigger is called.
func (e *Engine) Submit(ctx context.Context, name string, nodes []schema.DAGNode) (string, error) {
	if err := validation.CheckDAG(nodes); err != nil {
		return "", err
	}
	for _, node := range nodes {
		if !e.registry.Has(node.Handler) {
			return "", schema.NewErrorf(schema.ErrCodeValidation,
				"node %q references unknown handler %q", node.ID, node.Handler).WithNode(node.ID)
		}
	}

	executionID := uuid.NewString()
	ctx = logging.WithExecutionID(ctx, executionID)

	wf := &schema.Workflow{
		ExecutionID: executionID,
		Name:        name,
		Nodes:       nodes,
	}
	if err := e.state.SaveWorkflow(ctx, wf); err != nil {
		return "", err
	}
	for _, node := range nodes {
		if err := e.state.SetNodeStatus(ctx, executionID, node.ID, schema.NodeStatusPending, ""); err != nil {
			return "", err
		}
	}

	logging.LogWith(ctx, e.logger).Info("workflow submitted",
		slog.String("name", name),
		slog.Int("nodes", len(nodes)),
	)
	return executionID, nil
}

// SubmitDefinition validates a raw JSON definition against the submission
// schema and submits it.
func (e *Engine) SubmitDefinition(ctx context.Context, raw []byte) (string, error) {
	name, nodes, err := e.validator.ParseSubmission(raw)
	if err != nil {
		return "", err
	}
	return e.Submit(ctx, name, nodes)
}

// Trigger starts a previously submitted execution: it marks the workflow
// RUNNING, dispatches its root nodes and registers it with the active set so
// the starter keeps advancing it.
func (e *Engine) Trigger(ctx context.Context, executionID string) error {
	ctx = logging.WithExecutionID(ctx, executionID)

	exists, err := e.state.WorkflowExists(ctx, executionID)
	if err != nil {
		return err
	}
	if !exists {
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow execution %q not found", executionID)
	}

	if err := e.state.SetWorkflowStatus(ctx, executionID, schema.WorkflowStatusRunning); err != nil {
		return err
	}
	if err := e.scheduler.ScheduleReadyNodes(ctx, executionID); err != nil {
		return err
	}
	if err := e.state.AddActive(ctx, executionID); err != nil {
		return err
	}

	logging.LogWith(ctx, e.logger).Info("workflow triggered")
	return nil
}

// Status returns the workflow-level status and the per-node records of one
// execution.
func (e *Engine) Status(ctx context.Context, executionID string) (*schema.ExecutionStatus, error) {
	ctx = logging.WithExecutionID(ctx, executionID)

	wfStatus, err := e.state.GetWorkflowStatus(ctx, executionID)
	if err != nil {
		return nil, err
	}

	wf, err := e.state.LoadWorkflow(ctx, executionID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]schema.NodeRecord, len(wf.Nodes))
	for _, node := range wf.Nodes {
		rec, err := e.state.GetNodeRecord(ctx, executionID, node.ID)
		if schema.IsNotFound(err) {
			rec = &schema.NodeRecord{Status: schema.NodeStatusPending}
		} else if err != nil {
			return nil, err
		}
		nodes[node.ID] = *rec
	}

	return &schema.ExecutionStatus{
		ExecutionID: executionID,
		Status:      wfStatus,
		Nodes:       nodes,
	}, nil
}

// Results returns the outputs of every node of one execution, keyed by node
// ID. Nodes without an output yet map to an empty object.
func (e *Engine) Results(ctx context.Context, executionID string) (map[string]map[string]any, error) {
	ctx = logging.WithExecutionID(ctx, executionID)

	wf, err := e.state.LoadWorkflow(ctx, executionID)
	if err != nil {
		return nil, err
	}

	nodeIDs := make([]string, 0, len(wf.Nodes))
	for _, node := range wf.Nodes {
		nodeIDs = append(nodeIDs, node.ID)
	}
	return e.state.AllNodeOutputs(ctx, executionID, nodeIDs)
}
