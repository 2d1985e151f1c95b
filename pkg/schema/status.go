package schema

// NodeStatus represents the lifecycle state of a node within one execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "PENDING"
	NodeStatusQueued    NodeStatus = "QUEUED"
	NodeStatusRunning   NodeStatus = "RUNNING"
	NodeStatusCompleted NodeStatus = "COMPLETED"
	NodeStatusFailed    NodeStatus = "FAILED"
)

// WorkflowStatus represents the overall state of a workflow execution,
// distinct from the per-node statuses.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "RUNNING"
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"
)

// ValidNodeTransitions defines the allowed forward transitions for nodes.
// Transitions are monotonic; terminal states have no successors.
var ValidNodeTransitions = map[NodeStatus][]NodeStatus{
	NodeStatusPending:   {NodeStatusQueued},
	NodeStatusQueued:    {NodeStatusRunning},
	NodeStatusRunning:   {NodeStatusCompleted, NodeStatusFailed},
	NodeStatusCompleted: {},
	NodeStatusFailed:    {},
}

// CanTransition reports whether from -> to is a defined node transition.
func CanTransition(from, to NodeStatus) bool {
	for _, a := range ValidNodeTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is COMPLETED or FAILED.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed
}

// Valid reports whether s is one of the defined node statuses.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusPending, NodeStatusQueued, NodeStatusRunning, NodeStatusCompleted, NodeStatusFailed:
		return true
	}
	return false
}
