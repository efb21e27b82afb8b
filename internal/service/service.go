package service

import "context"

// StateClient provides the per-workflow persistent key/value state. Values
// are JSON-serialisable; keys are scoped by the client's namespace, so
// isolation across workflows/runs is the client's responsibility.
type StateClient interface {
	// GetState returns the value stored under key, or nil when absent.
	GetState(ctx context.Context, key string) (any, error)

	// SetState writes key -> value.
	SetState(ctx context.Context, key string, value any) error

	// GetAllState returns a snapshot of the full keyspace.
	GetAllState(ctx context.Context) (map[string]any, error)
}

// HandlerContext is the value exposed to user handler code as `ctx`.
// Input is the parent node's output (nil for a root descendant) and State
// is the full state snapshot taken before the handler runs.
type HandlerContext struct {
	Input any
	State map[string]any
}

// HandlerMeta carries diagnostic information about the node whose handler
// is being executed. It never influences handler semantics.
type HandlerMeta struct {
	WorkflowTitle string
	NodeID        string
	NodeType      NodeType
}

// JSRunner executes user-supplied handler source in a sandbox. The source
// defines `async function handle(ctx)`; the awaited return value is the
// node output. Any thrown error surfaces as a plain Go error.
type JSRunner interface {
	Execute(ctx context.Context, hctx HandlerContext, source string, meta HandlerMeta) (any, error)
}

// ToolRunner invokes a remote tool by identifier. Implementations validate
// input/output against the given JSON Schemas as far as they support it.
type ToolRunner interface {
	Execute(ctx context.Context, toolIdentifier string, input any, inputSchema, outputSchema map[string]any) (any, error)
}
