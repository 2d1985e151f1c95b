package store

// Centralized Redis key templates. Every persisted record is scoped by
// execution ID; the active set, schedule set and task stream are shared
// constants known to all processes.
const (
	// ActiveSetKey holds the execution IDs still requiring scheduling attention.
	ActiveSetKey = "workflows:active"

	// TaskStream is the append-only stream carrying dispatched node tasks.
	TaskStream = "workflow:tasks"

	// TaskGroup is the consumer group all workers read the task stream through.
	TaskGroup = "workflow_group"

	// ScheduleSetKey holds the IDs of registered recurring schedules.
	ScheduleSetKey = "schedules"
)

// WorkflowKey is the serialized workflow definition.
func WorkflowKey(executionID string) string {
	return "workflow:" + executionID
}

// WorkflowStatusKey is the workflow-level status record.
func WorkflowStatusKey(executionID string) string {
	return "workflow:" + executionID + ":status"
}

// NodeKey is the per-node execution record (status + error).
func NodeKey(executionID, nodeID string) string {
	return "workflow:" + executionID + ":node:" + nodeID
}

// NodeOutputKey is the per-node handler output.
func NodeOutputKey(executionID, nodeID string) string {
	return "workflow:" + executionID + ":node:" + nodeID + ":output"
}

// ScheduleKey is a persisted recurring schedule.
func ScheduleKey(scheduleID string) string {
	return "schedule:" + scheduleID
}
