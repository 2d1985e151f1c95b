package template

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// placeholderPattern matches {{ node_id.field }} references, whitespace-tolerant.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w-]+)\.([\w-]+)\s*\}\}`)

// OutputSource provides stored node outputs for placeholder resolution.
// Satisfied by the state Manager.
type OutputSource interface {
	GetNodeOutput(ctx context.Context, executionID, nodeID string) (map[string]any, error)
}

// Resolver rewrites node configuration strings, substituting
// {{ node_id.field }} placeholders with values from upstream node outputs.
// It performs reads only; resolution never mutates stored state.
type Resolver struct {
	source OutputSource
}

// NewResolver creates a Resolver reading outputs from the given source.
func NewResolver(source OutputSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns a copy of config with every placeholder in string values
// substituted. Multiple placeholders per string and references to multiple
// distinct nodes resolve in a single pass. A field absent from the
// referenced output substitutes the literal sentinel <missing:node.field>
// rather than failing; downstream handlers must tolerate it. Non-string
// values pass through unchanged.
func (r *Resolver) Resolve(ctx context.Context, executionID string, config map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(config))
	outputs := make(map[string]map[string]any)

	for key, value := range config {
		str, ok := value.(string)
		if !ok {
			resolved[key] = value
			continue
		}

		var readErr error
		replaced := placeholderPattern.ReplaceAllStringFunc(str, func(match string) string {
			if readErr != nil {
				return match
			}
			sub := placeholderPattern.FindStringSubmatch(match)
			nodeID, field := sub[1], sub[2]

			output, cached := outputs[nodeID]
			if !cached {
				var err error
				output, err = r.source.GetNodeOutput(ctx, executionID, nodeID)
				if err != nil {
					readErr = err
					return match
				}
				outputs[nodeID] = output
			}

			val, present := output[field]
			if !present {
				return "<missing:" + nodeID + "." + field + ">"
			}
			return stringify(val)
		})
		if readErr != nil {
			return nil, readErr
		}
		resolved[key] = replaced
	}
	return resolved, nil
}

// stringify converts a resolved output value into its string form for
// embedding into the configuration string.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
