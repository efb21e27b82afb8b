// Package service defines the workflow data model and the collaborator
// interfaces consumed by the execution engine: the JS handler runner, the
// tool runner, and the per-workflow state client.
package service

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NodeType discriminates the node variants of a workflow graph.
type NodeType string

const (
	NodeTypeCronjobTrigger NodeType = "cronjob-trigger"
	NodeTypeFixedInput     NodeType = "fixed-input"
	NodeTypeTool           NodeType = "tool"
	NodeTypeConverter      NodeType = "converter"
	NodeTypeCondition      NodeType = "condition"
	NodeTypeBoolean        NodeType = "boolean"
	NodeTypeUpsertState    NodeType = "upsert-state"
	NodeTypeSkip           NodeType = "skip"
)

// knownNodeTypes is used by the parser to reject unknown discriminators.
var knownNodeTypes = map[NodeType]struct{}{
	NodeTypeCronjobTrigger: {},
	NodeTypeFixedInput:     {},
	NodeTypeTool:           {},
	NodeTypeConverter:      {},
	NodeTypeCondition:      {},
	NodeTypeBoolean:        {},
	NodeTypeUpsertState:    {},
	NodeTypeSkip:           {},
}

// Workflow is the root document describing a graph to execute once.
// The trigger is always a cronjob-trigger node; its cron expression is
// metadata for external scheduling and is not interpreted by the engine.
type Workflow struct {
	Title   string `json:"title"`
	Trigger *Node  `json:"trigger"`
}

// Node is the tagged variant shared by all node shapes. Exactly one set of
// variant fields is meaningful, selected by Type; successors are embedded
// node objects, so a valid workflow is structurally acyclic.
type Node struct {
	Identifier string   `json:"identifier"`
	Type       NodeType `json:"type"`

	// cronjob-trigger
	Cron string `json:"cron,omitempty"`

	// fixed-input: arbitrary JSON value; strings inside may contain
	// {{dotted.path}} template expressions.
	Output any `json:"output,omitempty"`

	// tool
	ToolIdentifier string         `json:"toolIdentifier,omitempty"`
	InputSchema    map[string]any `json:"inputSchema,omitempty"`
	OutputSchema   map[string]any `json:"outputSchema,omitempty"`

	// converter / condition / boolean
	Code    string `json:"code,omitempty"`
	Runtime string `json:"runtime,omitempty"`

	// upsert-state: value is written literally, no templating.
	Key   string `json:"key,omitempty"`
	Value any    `json:"value,omitempty"`

	// Successor slots. Child is used by trigger, fixed-input, tool,
	// converter and upsert-state (and is present-but-ignored on skip).
	Child      *Node   `json:"child,omitempty"`
	Children   []*Node `json:"children,omitempty"`
	TrueChild  *Node   `json:"trueChild,omitempty"`
	FalseChild *Node   `json:"falseChild,omitempty"`
}

// Successors returns the embedded successor nodes of n in document order.
// For boolean nodes the order is trueChild then falseChild.
func (n *Node) Successors() []*Node {
	switch n.Type {
	case NodeTypeBoolean:
		out := make([]*Node, 0, 2)
		if n.TrueChild != nil {
			out = append(out, n.TrueChild)
		}
		if n.FalseChild != nil {
			out = append(out, n.FalseChild)
		}
		return out
	case NodeTypeCondition:
		return n.Children
	case NodeTypeSkip:
		// A skip terminates the run; its child slot is never followed.
		return nil
	default:
		if n.Child != nil {
			return []*Node{n.Child}
		}
		return nil
	}
}

// ParseError reports a structural problem in a workflow document.
type ParseError struct {
	Path    string
	Message string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return "parse workflow: " + e.Message
	}

	return fmt.Sprintf("parse workflow: %s: %s", e.Path, e.Message)
}

// ParseWorkflow decodes and structurally validates a workflow JSON document.
// It rejects unknown node types, missing required fields, wrong field types
// and duplicate node identifiers, so the engine can assume well-formed nodes
// and focus on semantic failures.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		if typeErr, ok := err.(*json.UnmarshalTypeError); ok {
			return nil, &ParseError{
				Path:    typeErr.Field,
				Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
			}
		}

		return nil, &ParseError{Message: err.Error()}
	}

	if wf.Title == "" {
		return nil, &ParseError{Path: "title", Message: "required"}
	}
	if wf.Trigger == nil {
		return nil, &ParseError{Path: "trigger", Message: "required"}
	}
	if wf.Trigger.Type != NodeTypeCronjobTrigger {
		return nil, &ParseError{
			Path:    "trigger.type",
			Message: fmt.Sprintf("must be %q, got %q", NodeTypeCronjobTrigger, wf.Trigger.Type),
		}
	}

	seen := make(map[string]string)
	if err := validateNode(wf.Trigger, "trigger", seen); err != nil {
		return nil, err
	}

	return &wf, nil
}

// validateNode checks one node's variant fields and recurses into its
// successor slots. seen maps identifier to the document path where it first
// appeared, for duplicate detection.
func validateNode(n *Node, path string, seen map[string]string) error {
	if n.Identifier == "" {
		return &ParseError{Path: path + ".identifier", Message: "required"}
	}
	if prev, ok := seen[n.Identifier]; ok {
		return &ParseError{
			Path:    path + ".identifier",
			Message: fmt.Sprintf("duplicate identifier %q (first used at %s)", n.Identifier, prev),
		}
	}
	seen[n.Identifier] = path

	if _, ok := knownNodeTypes[n.Type]; !ok {
		return &ParseError{Path: path + ".type", Message: fmt.Sprintf("unknown node type %q", n.Type)}
	}

	switch n.Type {
	case NodeTypeCronjobTrigger:
		if n.Cron == "" {
			return &ParseError{Path: path + ".cron", Message: "required"}
		}
	case NodeTypeFixedInput:
		if n.Output == nil {
			return &ParseError{Path: path + ".output", Message: "required"}
		}
	case NodeTypeTool:
		if n.ToolIdentifier == "" {
			return &ParseError{Path: path + ".toolIdentifier", Message: "required"}
		}
		if n.InputSchema == nil {
			return &ParseError{Path: path + ".inputSchema", Message: "required"}
		}
		if n.OutputSchema == nil {
			return &ParseError{Path: path + ".outputSchema", Message: "required"}
		}
	case NodeTypeConverter, NodeTypeCondition, NodeTypeBoolean:
		if n.Code == "" {
			return &ParseError{Path: path + ".code", Message: "required"}
		}
		if err := validateRuntime(n.Runtime); err != nil {
			return &ParseError{Path: path + ".runtime", Message: err.Error()}
		}
	case NodeTypeUpsertState:
		if n.Key == "" {
			return &ParseError{Path: path + ".key", Message: "required"}
		}
	case NodeTypeSkip:
		// No variant fields; the child slot is tolerated and ignored.
	}

	// Successor slots must match the variant shape.
	switch n.Type {
	case NodeTypeCondition:
		if n.Child != nil || n.TrueChild != nil || n.FalseChild != nil {
			return &ParseError{Path: path, Message: "condition nodes route via children only"}
		}
		for i, child := range n.Children {
			if child == nil {
				return &ParseError{Path: fmt.Sprintf("%s.children[%d]", path, i), Message: "null node"}
			}
			if err := validateNode(child, fmt.Sprintf("%s.children[%d]", path, i), seen); err != nil {
				return err
			}
		}
	case NodeTypeBoolean:
		if n.Child != nil || len(n.Children) > 0 {
			return &ParseError{Path: path, Message: "boolean nodes route via trueChild/falseChild only"}
		}
		if n.TrueChild != nil {
			if err := validateNode(n.TrueChild, path+".trueChild", seen); err != nil {
				return err
			}
		}
		if n.FalseChild != nil {
			if err := validateNode(n.FalseChild, path+".falseChild", seen); err != nil {
				return err
			}
		}
	default:
		if len(n.Children) > 0 || n.TrueChild != nil || n.FalseChild != nil {
			return &ParseError{Path: path, Message: fmt.Sprintf("%s nodes have a single child slot", n.Type)}
		}
		if n.Child != nil {
			if err := validateNode(n.Child, path+".child", seen); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateRuntime accepts the JS/TS runtime markers used by handler nodes.
// An empty runtime defaults to js.
func validateRuntime(runtime string) error {
	switch strings.ToLower(runtime) {
	case "", "js", "ts", "javascript", "typescript":
		return nil
	default:
		return fmt.Errorf("unsupported runtime %q", runtime)
	}
}

// ConditionResult validates a condition handler's return value: nil means
// terminate, a string names the child to execute next.
func ConditionResult(v any) (*string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &val, nil
	default:
		return nil, fmt.Errorf("condition handler must return null or a string, got %T", v)
	}
}

// BooleanResult validates a boolean handler's return value.
func BooleanResult(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("boolean handler must return a boolean, got %T", v)
	}

	return b, nil
}
