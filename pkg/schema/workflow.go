package schema

// DAGNode is a single unit of work within a workflow. Immutable once the
// workflow is accepted.
type DAGNode struct {
	ID           string         `json:"id"`
	Handler      string         `json:"handler"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// Workflow is a submitted DAG of nodes, identified solely by its execution ID.
type Workflow struct {
	ExecutionID string    `json:"execution_id"`
	Name        string    `json:"name"`
	Nodes       []DAGNode `json:"nodes"`
}

// NodeRecord is the persisted execution state of one (execution, node) pair.
type NodeRecord struct {
	Status NodeStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// TaskPayload is the handler invocation carried inside a task message.
// Config holds the node configuration after template resolution.
type TaskPayload struct {
	Handler string         `json:"handler"`
	Config  map[string]any `json:"config"`
}

// TaskMessage is the queue-transport record for one dispatched node. It is
// never the source of truth for node state; duplicate deliveries are detected
// by re-reading the NodeRecord, not by message identity.
type TaskMessage struct {
	ExecutionID string      `json:"execution_id"`
	NodeID      string      `json:"node_id"`
	Payload     TaskPayload `json:"payload"`
}

// ExecutionStatus is the detailed status view of one execution: the overall
// workflow status plus the current record of every node.
type ExecutionStatus struct {
	ExecutionID string                `json:"execution_id"`
	Status      WorkflowStatus        `json:"status"`
	Nodes       map[string]NodeRecord `json:"nodes"`
}
