package state

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

// Manager is the single source of truth for execution state: workflow
// definitions, workflow status, per-node records and outputs, and the
// active-workflow set. Every operation is a single store request and is
// idempotent; coordination between concurrent callers happens through the
// store's atomic primitives.
type Manager struct {
	store  store.Store
	logger *slog.Logger
}

// NewManager creates a Manager over the given store.
func NewManager(s store.Store, logger *slog.Logger) *Manager {
	return &Manager{store: s, logger: logger}
}

// SaveWorkflow persists the workflow definition under its execution ID.
// The definition is immutable after this point.
func (m *Manager) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	return m.store.SetJSON(ctx, store.WorkflowKey(wf.ExecutionID), wf)
}

// LoadWorkflow retrieves a workflow definition, or NOT_FOUND if the
// execution was never stored.
func (m *Manager) LoadWorkflow(ctx context.Context, executionID string) (*schema.Workflow, error) {
	var wf schema.Workflow
	if err := m.store.GetJSON(ctx, store.WorkflowKey(executionID), &wf); err != nil {
		if schema.IsNotFound(err) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", executionID)
		}
		return nil, err
	}
	return &wf, nil
}

// WorkflowExists reports whether a workflow definition is stored.
func (m *Manager) WorkflowExists(ctx context.Context, executionID string) (bool, error) {
	return m.store.Exists(ctx, store.WorkflowKey(executionID))
}

// SetNodeStatus writes the node execution record, enforcing the monotonic
// transition table: an uninitialized node may only become PENDING, and an
// existing record may only move along a defined forward transition (same-state
// rewrites are allowed). The check is read-then-write, not atomic; the CAS in
// MarkQueued remains the only race-critical gate. The error message is only
// persisted alongside FAILED.
func (m *Manager) SetNodeStatus(ctx context.Context, executionID, nodeID string, status schema.NodeStatus, errMsg string) error {
	if !status.Valid() {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"unknown node status %q", status).WithNode(nodeID)
	}

	cur, err := m.GetNodeRecord(ctx, executionID, nodeID)
	switch {
	case schema.IsNotFound(err):
		if status != schema.NodeStatusPending {
			return schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"cannot initialize node at %q", status).WithNode(nodeID)
		}
	case err != nil:
		return err
	default:
		if cur.Status != status && !schema.CanTransition(cur.Status, status) {
			return schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"illegal transition %s -> %s", cur.Status, status).WithNode(nodeID)
		}
	}

	rec := schema.NodeRecord{Status: status}
	if errMsg != "" {
		rec.Error = errMsg
	}
	return m.store.SetJSON(ctx, store.NodeKey(executionID, nodeID), rec)
}

// GetNodeRecord retrieves the full node execution record, or NOT_FOUND when
// the node was never initialized.
func (m *Manager) GetNodeRecord(ctx context.Context, executionID, nodeID string) (*schema.NodeRecord, error) {
	var rec schema.NodeRecord
	if err := m.store.GetJSON(ctx, store.NodeKey(executionID, nodeID), &rec); err != nil {
		if schema.IsNotFound(err) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound,
				"node record not found for execution %s", executionID).WithNode(nodeID)
		}
		return nil, err
	}
	if !rec.Status.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"invalid status %q for node in execution %s", rec.Status, executionID).WithNode(nodeID)
	}
	return &rec, nil
}

// GetNodeStatus retrieves the node's current status, or NOT_FOUND when the
// node was never initialized. Callers must initialize explicitly; absence is
// never defaulted here.
func (m *Manager) GetNodeStatus(ctx context.Context, executionID, nodeID string) (schema.NodeStatus, error) {
	rec, err := m.GetNodeRecord(ctx, executionID, nodeID)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// MarkQueued performs the atomic PENDING -> QUEUED transition. It returns
// false when the node is no longer PENDING, which means a concurrent
// scheduler invocation won the dispatch race. This compare-and-swap is the
// sole guard against double-dispatch.
func (m *Manager) MarkQueued(ctx context.Context, executionID, nodeID string) (bool, error) {
	pending, err := json.Marshal(schema.NodeRecord{Status: schema.NodeStatusPending})
	if err != nil {
		return false, schema.NewError(schema.ErrCodeStore, "marshal pending record").WithCause(err)
	}
	queued, err := json.Marshal(schema.NodeRecord{Status: schema.NodeStatusQueued})
	if err != nil {
		return false, schema.NewError(schema.ErrCodeStore, "marshal queued record").WithCause(err)
	}
	return m.store.CompareAndSwap(ctx, store.NodeKey(executionID, nodeID), string(pending), string(queued))
}

// AllDependenciesSucceeded reports whether every dependency is exactly
// COMPLETED. A missing dependency record is a hard NOT_FOUND, not "not
// ready": workflows initialize all nodes at submission, so absence means
// corrupted state.
func (m *Manager) AllDependenciesSucceeded(ctx context.Context, executionID string, dependencies []string) (bool, error) {
	for _, dep := range dependencies {
		status, err := m.GetNodeStatus(ctx, executionID, dep)
		if err != nil {
			return false, err
		}
		if status != schema.NodeStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// SetNodeOutput persists a node's handler output.
func (m *Manager) SetNodeOutput(ctx context.Context, executionID, nodeID string, output map[string]any) error {
	if output == nil {
		output = map[string]any{}
	}
	return m.store.SetJSON(ctx, store.NodeOutputKey(executionID, nodeID), output)
}

// GetNodeOutput retrieves a node's output. A node that has not produced
// output yet reads back as an empty object, not an error.
func (m *Manager) GetNodeOutput(ctx context.Context, executionID, nodeID string) (map[string]any, error) {
	var out map[string]any
	if err := m.store.GetJSON(ctx, store.NodeOutputKey(executionID, nodeID), &out); err != nil {
		if schema.IsNotFound(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// AllNodeOutputs returns node ID -> output for every listed node, with empty
// objects for nodes that have not completed.
func (m *Manager) AllNodeOutputs(ctx context.Context, executionID string, nodeIDs []string) (map[string]map[string]any, error) {
	outputs := make(map[string]map[string]any, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		out, err := m.GetNodeOutput(ctx, executionID, nodeID)
		if err != nil {
			return nil, err
		}
		outputs[nodeID] = out
	}
	return outputs, nil
}

// SetWorkflowStatus overwrites the workflow-level status record.
func (m *Manager) SetWorkflowStatus(ctx context.Context, executionID string, status schema.WorkflowStatus) error {
	return m.store.Set(ctx, store.WorkflowStatusKey(executionID), string(status))
}

// GetWorkflowStatus retrieves the workflow-level status, or NOT_FOUND when
// the workflow was never triggered.
func (m *Manager) GetWorkflowStatus(ctx context.Context, executionID string) (schema.WorkflowStatus, error) {
	val, err := m.store.Get(ctx, store.WorkflowStatusKey(executionID))
	if err != nil {
		if schema.IsNotFound(err) {
			return "", schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s was never triggered", executionID)
		}
		return "", err
	}
	return schema.WorkflowStatus(val), nil
}

// AddActive marks the execution as needing scheduling attention.
func (m *Manager) AddActive(ctx context.Context, executionID string) error {
	return m.store.SAdd(ctx, store.ActiveSetKey, executionID)
}

// RemoveActive retires the execution from the scheduling loop.
func (m *Manager) RemoveActive(ctx context.Context, executionID string) error {
	return m.store.SRem(ctx, store.ActiveSetKey, executionID)
}

// ActiveExecutions enumerates all executions in the active set.
func (m *Manager) ActiveExecutions(ctx context.Context) ([]string, error) {
	return m.store.SMembers(ctx, store.ActiveSetKey)
}
