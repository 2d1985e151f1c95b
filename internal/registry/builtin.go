package registry

import (
	"context"
	"math/rand"
	"time"

	"github.com/itchyny/gojq"

	"github.com/rendis/cascade/pkg/schema"
)

// RegisterBuiltins registers the built-in handler set in the given registry.
func RegisterBuiltins(reg *Registry) error {
	all := []Handler{
		NoopHandler{},
		NewExternalServiceHandler(100 * time.Millisecond),
		LLMHandler{},
		NewUnreliableHandler(nil),
		TransformHandler{},
	}
	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// NoopHandler does nothing and reports success.
type NoopHandler struct{}

func (NoopHandler) Name() string { return "noop" }

func (NoopHandler) Execute(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{"status": "ok"}, nil
}

// ExternalServiceHandler simulates a call to an external service with a
// bounded delay.
type ExternalServiceHandler struct {
	delay time.Duration
}

// NewExternalServiceHandler creates the handler with the given simulated
// call latency.
func NewExternalServiceHandler(delay time.Duration) *ExternalServiceHandler {
	return &ExternalServiceHandler{delay: delay}
}

func (h *ExternalServiceHandler) Name() string { return "call_external_service" }

func (h *ExternalServiceHandler) Execute(ctx context.Context, config map[string]any) (map[string]any, error) {
	url := "http://example.com"
	if v, ok := config["url"].(string); ok && v != "" {
		url = v
	}

	select {
	case <-time.After(h.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return map[string]any{
		"status": "ok",
		"data":   "simulated call to " + url,
	}, nil
}

// LLMHandler simulates a language-model call by echoing the prompt.
type LLMHandler struct{}

func (LLMHandler) Name() string { return "llm" }

func (LLMHandler) Execute(_ context.Context, config map[string]any) (map[string]any, error) {
	prompt := "Hello, world!"
	if v, ok := config["prompt"].(string); ok && v != "" {
		prompt = v
	}
	return map[string]any{
		"status": "ok",
		"answer": "simulated response for: " + prompt,
	}, nil
}

// UnreliableHandler fails randomly. Used to exercise failure paths; the
// failure rate defaults to 0.5 and can be overridden per node with the
// fail_rate config key.
type UnreliableHandler struct {
	roll func() float64
}

// NewUnreliableHandler creates the handler with the given random source.
// A nil roll uses the default RNG; tests inject a deterministic one.
func NewUnreliableHandler(roll func() float64) *UnreliableHandler {
	if roll == nil {
		roll = rand.Float64
	}
	return &UnreliableHandler{roll: roll}
}

func (h *UnreliableHandler) Name() string { return "unreliable" }

func (h *UnreliableHandler) Execute(_ context.Context, config map[string]any) (map[string]any, error) {
	rate := 0.5
	if v, ok := config["fail_rate"].(float64); ok {
		rate = v
	}
	if h.roll() < rate {
		return nil, schema.NewError(schema.ErrCodeHandler, "simulated failure")
	}
	return map[string]any{
		"status":  "ok",
		"message": "sometimes it works",
	}, nil
}

// TransformHandler applies a jq expression to its input. Config keys:
// expression (required jq program) and input (the value piped into it,
// typically carrying template-resolved upstream data).
type TransformHandler struct{}

func (TransformHandler) Name() string { return "transform" }

func (TransformHandler) Execute(ctx context.Context, config map[string]any) (map[string]any, error) {
	expr, _ := config["expression"].(string)
	if expr == "" {
		return nil, schema.NewError(schema.ErrCodeHandler, `transform requires an "expression" string`)
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "parse jq expression: %s", err.Error()).WithCause(err)
	}

	var input any = config["input"]

	var results []any
	iter := query.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeHandler, "evaluate jq expression: %s", err.Error()).WithCause(err)
		}
		results = append(results, v)
	}

	out := map[string]any{"status": "ok"}
	switch len(results) {
	case 0:
		out["result"] = nil
	case 1:
		out["result"] = results[0]
	default:
		out["result"] = results
	}
	return out, nil
}
