package workflow

import (
	"testing"

	"github.com/rxtech-lab/rxflow/internal/service"
)

func linearWorkflow() *service.Workflow {
	return &service.Workflow{
		Title: "linear",
		Trigger: &service.Node{
			Identifier: "t1",
			Type:       service.NodeTypeCronjobTrigger,
			Cron:       "* * * * *",
			Child: &service.Node{
				Identifier: "f1",
				Type:       service.NodeTypeFixedInput,
				Output:     map[string]any{"a": 1.0},
				Child: &service.Node{
					Identifier: "b1",
					Type:       service.NodeTypeBoolean,
					Code:       "async function handle(ctx) { return true }",
					TrueChild:  &service.Node{Identifier: "s1", Type: service.NodeTypeSkip},
					FalseChild: &service.Node{Identifier: "s2", Type: service.NodeTypeSkip},
				},
			},
		},
	}
}

func TestWalkerFindByID(t *testing.T) {
	w := NewWalker(linearWorkflow())

	for _, id := range []string{"t1", "f1", "b1", "s1", "s2"} {
		node := w.FindByID(id)
		if node == nil {
			t.Fatalf("node %q not found", id)
		}
		if node.Identifier != id {
			t.Errorf("found %q, want %q", node.Identifier, id)
		}
	}

	if w.FindByID("missing") != nil {
		t.Error("expected nil for unknown identifier")
	}
}

func TestWalkerParentsOf(t *testing.T) {
	w := NewWalker(linearWorkflow())

	if got := w.ParentsOf("t1"); len(got) != 0 {
		t.Errorf("trigger parents = %d, want 0", len(got))
	}

	parents := w.ParentsOf("f1")
	if len(parents) != 1 || parents[0].Identifier != "t1" {
		t.Fatalf("f1 parents = %+v", parents)
	}

	parents = w.ParentsOf("s1")
	if len(parents) != 1 || parents[0].Identifier != "b1" {
		t.Fatalf("s1 parents = %+v", parents)
	}
}

func TestWalkerNonTriggerParents(t *testing.T) {
	w := NewWalker(linearWorkflow())

	// f1's only parent is the trigger, which never counts.
	if got := w.NonTriggerParentsOf("f1"); len(got) != 0 {
		t.Errorf("f1 non-trigger parents = %d, want 0", len(got))
	}

	got := w.NonTriggerParentsOf("b1")
	if len(got) != 1 || got[0].Identifier != "f1" {
		t.Errorf("b1 non-trigger parents = %+v", got)
	}
}

func TestWalkerSharedChild(t *testing.T) {
	// Two converters aliasing the same join node: both must be reported
	// as parents, in document order.
	join := &service.Node{
		Identifier: "join",
		Type:       service.NodeTypeBoolean,
		Code:       "async function handle(ctx) { return true }",
		TrueChild:  &service.Node{Identifier: "end", Type: service.NodeTypeSkip},
	}
	wf := &service.Workflow{
		Title: "diamond",
		Trigger: &service.Node{
			Identifier: "t1",
			Type:       service.NodeTypeCronjobTrigger,
			Cron:       "* * * * *",
			Child: &service.Node{
				Identifier: "b0",
				Type:       service.NodeTypeBoolean,
				Code:       "async function handle(ctx) { return true }",
				TrueChild:  &service.Node{Identifier: "p1", Type: service.NodeTypeConverter, Code: "x", Child: join},
				FalseChild: &service.Node{Identifier: "p2", Type: service.NodeTypeConverter, Code: "x", Child: join},
			},
		},
	}

	w := NewWalker(wf)

	parents := w.ParentsOf("join")
	if len(parents) != 2 {
		t.Fatalf("join parents = %d, want 2", len(parents))
	}
	if parents[0].Identifier != "p1" || parents[1].Identifier != "p2" {
		t.Errorf("parent order = %q, %q", parents[0].Identifier, parents[1].Identifier)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		typ  service.NodeType
		want NodeShape
	}{
		{service.NodeTypeCronjobTrigger, ShapeTrigger},
		{service.NodeTypeFixedInput, ShapeRegularSingleChild},
		{service.NodeTypeTool, ShapeRegularSingleChild},
		{service.NodeTypeConverter, ShapeRegularSingleChild},
		{service.NodeTypeUpsertState, ShapeRegularSingleChild},
		{service.NodeTypeSkip, ShapeRegularSingleChild},
		{service.NodeTypeBoolean, ShapeBooleanTwoChild},
		{service.NodeTypeCondition, ShapeConditionManyChild},
	}

	for _, tt := range tests {
		if got := Classify(&service.Node{Type: tt.typ}); got != tt.want {
			t.Errorf("Classify(%s) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}
