// Package workflow implements the workflow execution engine: a BFS
// scheduler over a parsed node graph with join-wait for conditional nodes,
// strict-undefined templating for fixed-input nodes, and dispatch to the
// pluggable JS handler runner, tool runner, and state client.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/logi"

	"github.com/rxtech-lab/rxflow/internal/service"
)

// Engine executes one workflow invocation at a time. All per-run state is
// scoped to the Execute call, so an engine value can be reused sequentially;
// concurrent Execute calls on the same engine are not supported.
type Engine struct {
	js    service.JSRunner
	tools service.ToolRunner
	state service.StateClient

	strictTemplates bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrictTemplates controls undefined-variable handling in fixed-input
// templates. Strict (the default) raises a reference error; non-strict
// renders undefined input/context lookups as empty strings.
func WithStrictTemplates(strict bool) Option {
	return func(e *Engine) {
		e.strictTemplates = strict
	}
}

// NewEngine creates a workflow execution engine. All three collaborators
// are required.
func NewEngine(js service.JSRunner, tools service.ToolRunner, state service.StateClient, opts ...Option) (*Engine, error) {
	if js == nil {
		return nil, errors.New("workflow engine: js runner is required")
	}
	if tools == nil {
		return nil, errors.New("workflow engine: tool runner is required")
	}
	if state == nil {
		return nil, errors.New("workflow engine: state client is required")
	}

	e := &Engine{js: js, tools: tools, state: state, strictTemplates: true}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// entry is one pending execution: a node identifier plus the context value
// passed forward by its producer. A nil context means no parent output was
// passed (conditional successors, the trigger's child).
type entry struct {
	nodeID  string
	context any
}

// run holds the mutable state of a single Execute call.
type run struct {
	walker     *Walker
	title      string
	invocation map[string]any

	queue      []entry
	executed   map[string]struct{}
	outputs    map[string]any
	arrivals   map[string]map[string]struct{}
	stalls     map[string]int
	lastOutput any
}

// Execute runs the workflow once and returns the output of the last node
// that executed. Failures surface as exactly two shapes: *ReferenceError
// for unresolved template variables, *EngineError for everything else.
func (e *Engine) Execute(ctx context.Context, wf *service.Workflow, invocation map[string]any) (any, error) {
	if wf == nil || wf.Trigger == nil {
		return nil, &EngineError{Message: "workflow has no trigger"}
	}
	if wf.Trigger.Child == nil {
		return nil, &EngineError{Message: fmt.Sprintf("trigger node '%s' has no child", wf.Trigger.Identifier)}
	}

	runID := ulid.Make().String()
	ctx = logi.WithContext(ctx, slog.With(
		slog.String("workflow", wf.Title),
		slog.String("run_id", runID),
	))

	r := &run{
		walker:     NewWalker(wf),
		title:      wf.Title,
		invocation: invocation,
		executed:   make(map[string]struct{}),
		outputs:    make(map[string]any),
		arrivals:   make(map[string]map[string]struct{}),
		stalls:     make(map[string]int),
	}
	r.queue = append(r.queue, entry{nodeID: wf.Trigger.Child.Identifier})

	logi.Ctx(ctx).Info("workflow run started", "trigger", wf.Trigger.Identifier)

	for len(r.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, &EngineError{Message: "workflow cancelled: " + err.Error(), Cause: err}
		}

		item := r.queue[0]
		r.queue = r.queue[1:]

		if _, done := r.executed[item.nodeID]; done {
			continue
		}

		node := r.walker.FindByID(item.nodeID)
		if node == nil {
			return nil, &EngineError{Message: fmt.Sprintf("unknown node identifier '%s'", item.nodeID)}
		}

		// Conditional nodes are join points: wait for every non-trigger
		// parent to produce its output before executing.
		if shape := Classify(node); shape == ShapeBooleanTwoChild || shape == ShapeConditionManyChild {
			ready, err := r.joinReady(node)
			if err != nil {
				return nil, err
			}
			if !ready {
				logi.Ctx(ctx).Debug("re-queueing conditional node", "node", node.Identifier)
				r.queue = append(r.queue, item)
				continue
			}
		}

		output, err := e.executeNode(ctx, r, node, item.context)
		if err != nil {
			var refErr *ReferenceError
			if errors.As(err, &refErr) {
				return nil, refErr
			}
			wrapped := nodeError(string(node.Type), node.Identifier, err)
			logi.Ctx(ctx).Error("node execution failed", "node", node.Identifier, "error", err)
			return nil, wrapped
		}

		r.executed[node.Identifier] = struct{}{}
		r.outputs[node.Identifier] = output
		r.lastOutput = output

		if err := e.queueNext(ctx, r, node, output); err != nil {
			return nil, err
		}
	}

	logi.Ctx(ctx).Info("workflow run finished", "executed", len(r.executed))

	return r.lastOutput, nil
}

// joinReady records newly arrived parents for a conditional node and
// reports whether all of them have produced an output. Re-queues without a
// new arrival are bounded by the parent count; exhausting the budget means
// some parent can never arrive in the linearised schedule.
func (r *run) joinReady(node *service.Node) (bool, error) {
	parents := r.walker.NonTriggerParentsOf(node.Identifier)
	if len(parents) == 0 {
		return true, nil
	}

	arrived := r.arrivals[node.Identifier]
	if arrived == nil {
		arrived = make(map[string]struct{})
		r.arrivals[node.Identifier] = arrived
	}

	grew := false
	for _, p := range parents {
		if _, done := r.executed[p.Identifier]; !done {
			continue
		}
		if _, seen := arrived[p.Identifier]; !seen {
			arrived[p.Identifier] = struct{}{}
			grew = true
		}
	}

	if len(arrived) >= len(parents) {
		return true, nil
	}

	if grew {
		r.stalls[node.Identifier] = 0
		return false, nil
	}

	r.stalls[node.Identifier]++
	if r.stalls[node.Identifier] > len(parents) {
		return false, &EngineError{Message: fmt.Sprintf(
			"deadlocked conditional '%s': %d of %d parents arrived",
			node.Identifier, len(arrived), len(parents),
		)}
	}

	return false, nil
}

// firstParentOutput implements the single-parent read rule: conditional
// handlers see the output of the first non-trigger parent in walker order,
// or nil when no such parent exists.
func (r *run) firstParentOutput(node *service.Node) any {
	parents := r.walker.NonTriggerParentsOf(node.Identifier)
	if len(parents) == 0 {
		return nil
	}

	return r.outputs[parents[0].Identifier]
}

// executeNode dispatches one node. Returned errors are causes; the caller
// wraps them with the node type/id prefix (reference errors excepted).
func (e *Engine) executeNode(ctx context.Context, r *run, node *service.Node, input any) (any, error) {
	logi.Ctx(ctx).Debug("executing node", "node", node.Identifier, "type", node.Type)

	switch node.Type {
	case service.NodeTypeCronjobTrigger:
		// Only reachable when re-queued erroneously; behave like a no-op source.
		if input != nil {
			return input, nil
		}
		return map[string]any{
			"trigger":   "executed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, nil

	case service.NodeTypeFixedInput:
		inputCtx := input
		if inputCtx == nil {
			inputCtx = anyMap(r.invocation)
		}
		snapshot, err := e.state.GetAllState(ctx)
		if err != nil {
			return nil, err
		}
		return renderValue(node.Output, RenderContext{
			Input:   inputCtx,
			Context: r.invocation,
			State:   snapshot,
		}, node.Identifier, e.strictTemplates)

	case service.NodeTypeTool:
		return e.tools.Execute(ctx, node.ToolIdentifier, input, node.InputSchema, node.OutputSchema)

	case service.NodeTypeConverter:
		snapshot, err := e.state.GetAllState(ctx)
		if err != nil {
			return nil, err
		}
		return e.js.Execute(ctx, service.HandlerContext{Input: input, State: snapshot}, node.Code, e.meta(r, node))

	case service.NodeTypeCondition:
		out, err := e.runConditionalHandler(ctx, r, node)
		if err != nil {
			return nil, err
		}
		res, err := service.ConditionResult(out)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, nil
		}
		return *res, nil

	case service.NodeTypeBoolean:
		out, err := e.runConditionalHandler(ctx, r, node)
		if err != nil {
			return nil, err
		}
		return service.BooleanResult(out)

	case service.NodeTypeUpsertState:
		if err := e.state.SetState(ctx, node.Key, node.Value); err != nil {
			return nil, err
		}
		return node.Value, nil

	case service.NodeTypeSkip:
		return input, nil

	default:
		return nil, fmt.Errorf("unsupported node type %q", node.Type)
	}
}

// runConditionalHandler executes a condition/boolean node's handler with
// the first non-trigger parent's output as input.
func (e *Engine) runConditionalHandler(ctx context.Context, r *run, node *service.Node) (any, error) {
	snapshot, err := e.state.GetAllState(ctx)
	if err != nil {
		return nil, err
	}

	hctx := service.HandlerContext{
		Input: r.firstParentOutput(node),
		State: snapshot,
	}

	return e.js.Execute(ctx, hctx, node.Code, e.meta(r, node))
}

func (e *Engine) meta(r *run, node *service.Node) service.HandlerMeta {
	return service.HandlerMeta{
		WorkflowTitle: r.title,
		NodeID:        node.Identifier,
		NodeType:      node.Type,
	}
}

// queueNext enqueues the successor(s) of an executed node. Conditional
// successors are enqueued without a context value; they read their input
// via the single-parent rule at their own execution time.
func (e *Engine) queueNext(ctx context.Context, r *run, node *service.Node, output any) error {
	switch node.Type {
	case service.NodeTypeSkip:
		// Explicit terminator: its received input is the workflow output.
		return nil

	case service.NodeTypeBoolean:
		chosen := node.FalseChild
		if output.(bool) {
			chosen = node.TrueChild
		}
		if chosen == nil {
			logi.Ctx(ctx).Info("boolean node has no branch for result, terminating",
				"node", node.Identifier, "result", output)
			return nil
		}
		r.queue = append(r.queue, entry{nodeID: chosen.Identifier})
		return nil

	case service.NodeTypeCondition:
		if output == nil {
			return nil
		}
		next := output.(string)
		for _, child := range node.Children {
			if child.Identifier == next {
				r.queue = append(r.queue, entry{nodeID: next})
				return nil
			}
		}
		return &EngineError{Message: fmt.Sprintf(
			"condition node '%s' returned unknown child identifier '%s'",
			node.Identifier, next,
		)}

	default:
		if node.Child != nil {
			r.queue = append(r.queue, entry{nodeID: node.Child.Identifier, context: output})
		}
		return nil
	}
}

// anyMap widens a possibly-nil map for use as a template input root.
func anyMap(m map[string]any) any {
	if m == nil {
		return nil
	}

	return m
}
