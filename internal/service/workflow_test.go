package service

import (
	"errors"
	"testing"
)

func TestParseWorkflow_LinearChain(t *testing.T) {
	doc := []byte(`{
		"title": "price alert",
		"trigger": {
			"identifier": "t1",
			"type": "cronjob-trigger",
			"cron": "0 * * * *",
			"child": {
				"identifier": "f1",
				"type": "fixed-input",
				"output": {"symbol": "BTCUSDT"},
				"child": {
					"identifier": "tool1",
					"type": "tool",
					"toolIdentifier": "binance",
					"inputSchema": {"type": "object"},
					"outputSchema": {"type": "object"}
				}
			}
		}
	}`)

	wf, err := ParseWorkflow(doc)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	if wf.Title != "price alert" {
		t.Errorf("title = %q", wf.Title)
	}
	if wf.Trigger.Type != NodeTypeCronjobTrigger {
		t.Errorf("trigger type = %q", wf.Trigger.Type)
	}
	if wf.Trigger.Child == nil || wf.Trigger.Child.Identifier != "f1" {
		t.Fatalf("trigger child = %+v", wf.Trigger.Child)
	}
	if got := wf.Trigger.Child.Child.ToolIdentifier; got != "binance" {
		t.Errorf("tool identifier = %q", got)
	}
}

func TestParseWorkflow_Rejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{
			name: "missing title",
			doc:  `{"trigger": {"identifier": "t", "type": "cronjob-trigger", "cron": "* * * * *"}}`,
			path: "title",
		},
		{
			name: "missing trigger",
			doc:  `{"title": "x"}`,
			path: "trigger",
		},
		{
			name: "trigger wrong type",
			doc:  `{"title": "x", "trigger": {"identifier": "t", "type": "skip"}}`,
			path: "trigger.type",
		},
		{
			name: "unknown discriminator",
			doc: `{"title": "x", "trigger": {"identifier": "t", "type": "cronjob-trigger", "cron": "* * * * *",
				"child": {"identifier": "n", "type": "mystery"}}}`,
			path: "trigger.child.type",
		},
		{
			name: "tool missing schema",
			doc: `{"title": "x", "trigger": {"identifier": "t", "type": "cronjob-trigger", "cron": "* * * * *",
				"child": {"identifier": "n", "type": "tool", "toolIdentifier": "binance",
				"inputSchema": {"type": "object"}}}}`,
			path: "trigger.child.outputSchema",
		},
		{
			name: "converter missing code",
			doc: `{"title": "x", "trigger": {"identifier": "t", "type": "cronjob-trigger", "cron": "* * * * *",
				"child": {"identifier": "n", "type": "converter"}}}`,
			path: "trigger.child.code",
		},
		{
			name: "upsert missing key",
			doc: `{"title": "x", "trigger": {"identifier": "t", "type": "cronjob-trigger", "cron": "* * * * *",
				"child": {"identifier": "n", "type": "upsert-state", "value": 1}}}`,
			path: "trigger.child.key",
		},
		{
			name: "duplicate identifier",
			doc: `{"title": "x", "trigger": {"identifier": "t", "type": "cronjob-trigger", "cron": "* * * * *",
				"child": {"identifier": "t", "type": "skip"}}}`,
			path: "trigger.child.identifier",
		},
		{
			name: "boolean with child slot",
			doc: `{"title": "x", "trigger": {"identifier": "t", "type": "cronjob-trigger", "cron": "* * * * *",
				"child": {"identifier": "b", "type": "boolean", "code": "x",
				"child": {"identifier": "n", "type": "skip"}}}}`,
			path: "trigger.child",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWorkflow([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected parse error")
			}

			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}
			if parseErr.Path != tt.path {
				t.Errorf("path = %q, want %q", parseErr.Path, tt.path)
			}
		})
	}
}

func TestParseWorkflow_WrongFieldType(t *testing.T) {
	doc := []byte(`{"title": "x", "trigger": {"identifier": "t", "type": "cronjob-trigger", "cron": 42}}`)

	_, err := ParseWorkflow(doc)
	if err == nil {
		t.Fatal("expected parse error")
	}

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func TestSuccessors(t *testing.T) {
	skipNode := &Node{Identifier: "s", Type: NodeTypeSkip, Child: &Node{Identifier: "x", Type: NodeTypeSkip}}
	if got := skipNode.Successors(); len(got) != 0 {
		t.Errorf("skip successors = %d, want 0", len(got))
	}

	boolNode := &Node{
		Identifier: "b",
		Type:       NodeTypeBoolean,
		TrueChild:  &Node{Identifier: "tc"},
		FalseChild: &Node{Identifier: "fc"},
	}
	got := boolNode.Successors()
	if len(got) != 2 || got[0].Identifier != "tc" || got[1].Identifier != "fc" {
		t.Errorf("boolean successors = %+v", got)
	}

	condNode := &Node{
		Identifier: "c",
		Type:       NodeTypeCondition,
		Children:   []*Node{{Identifier: "a"}, {Identifier: "b"}},
	}
	if got := condNode.Successors(); len(got) != 2 {
		t.Errorf("condition successors = %d, want 2", len(got))
	}
}

func TestConditionResult(t *testing.T) {
	if res, err := ConditionResult(nil); err != nil || res != nil {
		t.Errorf("nil: res=%v err=%v", res, err)
	}

	res, err := ConditionResult("next-node")
	if err != nil || res == nil || *res != "next-node" {
		t.Errorf("string: res=%v err=%v", res, err)
	}

	if _, err := ConditionResult(42.0); err == nil {
		t.Error("expected error for number result")
	}
	if _, err := ConditionResult(true); err == nil {
		t.Error("expected error for boolean result")
	}
}

func TestBooleanResult(t *testing.T) {
	b, err := BooleanResult(true)
	if err != nil || !b {
		t.Errorf("true: b=%v err=%v", b, err)
	}

	if _, err := BooleanResult("yes"); err == nil {
		t.Error("expected error for string result")
	}
	if _, err := BooleanResult(nil); err == nil {
		t.Error("expected error for nil result")
	}
}
