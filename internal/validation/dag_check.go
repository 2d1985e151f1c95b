package validation

import (
	"github.com/rendis/cascade/pkg/schema"
)

// CheckDAG validates the structural integrity of a submitted node set, in
// order: duplicate IDs, dangling dependency references, self-references,
// cycles. It is a pure predicate gate with no side effects, called once at
// submission; the invariants it establishes are never re-checked afterwards.
func CheckDAG(nodes []schema.DAGNode) error {
	graph := make(map[string][]string, len(nodes))

	for _, node := range nodes {
		if node.ID == "" {
			return schema.NewError(schema.ErrCodeValidation, "node id is empty")
		}
		if _, exists := graph[node.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeDuplicateNode, "duplicate node id %q", node.ID).WithNode(node.ID)
		}
		graph[node.ID] = node.Dependencies
	}

	for _, node := range nodes {
		for _, dep := range node.Dependencies {
			if dep == node.ID {
				return schema.NewErrorf(schema.ErrCodeInvalidDependency,
					"node %q depends on itself", node.ID).WithNode(node.ID)
			}
			if _, ok := graph[dep]; !ok {
				return schema.NewErrorf(schema.ErrCodeInvalidDependency,
					"dependency %q does not refer to any node", dep).WithNode(node.ID)
			}
		}
	}

	if hasCycle(graph) {
		return schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a dependency cycle")
	}
	return nil
}

// hasCycle runs a depth-first traversal from every unvisited node, keeping a
// recursion stack. Reaching a node already on the stack signals a cycle; a
// fully explored node is never revisited.
func hasCycle(graph map[string][]string) bool {
	visited := make(map[string]bool, len(graph))
	onStack := make(map[string]bool, len(graph))

	var visit func(id string) bool
	visit = func(id string) bool {
		if onStack[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		onStack[id] = true
		for _, dep := range graph[id] {
			if visit(dep) {
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for id := range graph {
		if !visited[id] && visit(id) {
			return true
		}
	}
	return false
}
