package workflow

import "github.com/rxtech-lab/rxflow/internal/service"

// NodeShape classifies how a node routes to its successors.
type NodeShape string

const (
	ShapeTrigger            NodeShape = "trigger"
	ShapeRegularSingleChild NodeShape = "regular-single-child"
	ShapeBooleanTwoChild    NodeShape = "boolean-two-child"
	ShapeConditionManyChild NodeShape = "condition-many-child"
)

// Classify returns the routing shape of a node.
func Classify(n *service.Node) NodeShape {
	switch n.Type {
	case service.NodeTypeCronjobTrigger:
		return ShapeTrigger
	case service.NodeTypeBoolean:
		return ShapeBooleanTwoChild
	case service.NodeTypeCondition:
		return ShapeConditionManyChild
	default:
		return ShapeRegularSingleChild
	}
}

// Walker is an arena/index view over a parsed workflow. Successors are
// embedded in the document, so one DFS from the trigger is enough to build
// both the id index and the parent map; all lookups afterwards are O(1).
type Walker struct {
	trigger *service.Node
	byID    map[string]*service.Node
	parents map[string][]*service.Node
}

// NewWalker indexes the workflow graph in a single depth-first pass.
// Parent lists preserve document order, which is what makes the engine's
// first-non-trigger-parent rule deterministic.
func NewWalker(wf *service.Workflow) *Walker {
	w := &Walker{
		trigger: wf.Trigger,
		byID:    make(map[string]*service.Node),
		parents: make(map[string][]*service.Node),
	}
	w.index(wf.Trigger)

	return w
}

func (w *Walker) index(n *service.Node) {
	if n == nil {
		return
	}
	w.byID[n.Identifier] = n

	for _, child := range n.Successors() {
		w.parents[child.Identifier] = append(w.parents[child.Identifier], n)
		w.index(child)
	}
}

// FindByID returns the node with the given identifier, or nil.
func (w *Walker) FindByID(id string) *service.Node {
	return w.byID[id]
}

// ParentsOf returns every node whose successor slot references id, in
// document order. The trigger itself has no parents.
func (w *Walker) ParentsOf(id string) []*service.Node {
	return w.parents[id]
}

// NonTriggerParentsOf filters ParentsOf down to non-trigger nodes. The
// engine's join-wait and single-parent read rule operate on this list.
func (w *Walker) NonTriggerParentsOf(id string) []*service.Node {
	all := w.parents[id]
	out := make([]*service.Node, 0, len(all))
	for _, p := range all {
		if p.Type != service.NodeTypeCronjobTrigger {
			out = append(out, p)
		}
	}

	return out
}
