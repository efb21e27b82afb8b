package toolrunner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func testPolicy(result any) Policy {
	return func(string, any, map[string]any) Decision {
		return Decision{Mode: ModeTest, Result: result}
	}
}

func TestTestRunner_PolicyResult(t *testing.T) {
	r := NewTestRunner(nil, testPolicy(map[string]any{"result": "success"}), WithSeed(1))

	out, err := r.Execute(context.Background(), "telegram-bot", map[string]any{"chat_id": "42"}, nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	m, ok := out.(map[string]any)
	if !ok || m["result"] != "success" {
		t.Errorf("output = %v", out)
	}
}

func TestTestRunner_RecordsCalls(t *testing.T) {
	r := NewTestRunner(nil, testPolicy(nil), WithSeed(1))

	if got := r.CallCount("binance"); got != 0 {
		t.Errorf("initial count = %d", got)
	}

	for i := 0; i < 3; i++ {
		if _, err := r.Execute(context.Background(), "binance", map[string]any{"symbol": "BTCUSDT"}, nil, nil); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}

	if got := r.CallCount("binance"); got != 3 {
		t.Errorf("count = %d, want 3", got)
	}

	last, ok := r.LastInput("binance").(map[string]any)
	if !ok || last["symbol"] != "BTCUSDT" {
		t.Errorf("last input = %v", r.LastInput("binance"))
	}

	if got := r.CallCount("telegram-bot"); got != 0 {
		t.Errorf("unrelated tool count = %d", got)
	}
}

func TestTestRunner_InputValidationFailure(t *testing.T) {
	r := NewTestRunner(nil, testPolicy(nil), WithSeed(1))

	schema := map[string]any{
		"type":     "object",
		"required": []any{"chat_id", "message"},
		"properties": map[string]any{
			"chat_id": map[string]any{"type": "string"},
			"message": map[string]any{"type": "string"},
			"count":   map[string]any{"type": "integer", "minimum": 1},
		},
	}

	// One violation: chat_id has the wrong type.
	_, err := r.Execute(context.Background(), "telegram-bot", map[string]any{
		"chat_id": 42,
		"message": "hi",
	}, schema, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), `tool "telegram-bot" input validation failed`) {
		t.Errorf("error = %v", err)
	}

	// A valid call passes.
	if _, err := r.Execute(context.Background(), "telegram-bot", map[string]any{
		"chat_id": "42",
		"message": "hi",
		"count":   3,
	}, schema, nil); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}
}

func TestTestRunner_ValidationFailureIsNotRecordedAsResult(t *testing.T) {
	r := NewTestRunner(nil, testPolicy(nil), WithSeed(1))

	schema := map[string]any{"type": "object", "required": []any{"x"}}

	before := r.CallCount("t")
	_, err := r.Execute(context.Background(), "t", map[string]any{}, schema, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := r.CallCount("t"); got != before {
		t.Errorf("rejected call was counted: %d", got)
	}
}

func TestTestRunner_FormatValidation(t *testing.T) {
	r := NewTestRunner(nil, testPolicy(nil), WithSeed(1))

	schema := map[string]any{
		"type":     "object",
		"required": []any{"email"},
		"properties": map[string]any{
			"email": map[string]any{"type": "string", "format": "email"},
		},
	}

	if _, err := r.Execute(context.Background(), "t", map[string]any{"email": "not-an-email"}, schema, nil); err == nil {
		t.Fatal("expected format violation")
	}

	if _, err := r.Execute(context.Background(), "t", map[string]any{"email": "ops@example.com"}, schema, nil); err != nil {
		t.Fatalf("valid email rejected: %v", err)
	}
}

func TestTestRunner_SynthesizeFromSchema(t *testing.T) {
	r := NewTestRunner(nil, nil, WithSeed(7))

	schema := map[string]any{
		"type":     "object",
		"required": []any{"status", "score", "count", "tags", "when"},
		"properties": map[string]any{
			"status": map[string]any{"type": "string", "enum": []any{"ok", "degraded"}},
			"score":  map[string]any{"type": "number", "minimum": 10.0, "maximum": 20.0},
			"count":  map[string]any{"type": "integer", "minimum": 1.0, "maximum": 5.0},
			"tags": map[string]any{
				"type":     "array",
				"minItems": 2.0,
				"maxItems": 4.0,
				"items":    map[string]any{"type": "string"},
			},
			"when": map[string]any{"type": "string", "format": "date-time"},
			"note": map[string]any{"type": "string"},
		},
	}

	for i := 0; i < 20; i++ {
		out, err := r.Execute(context.Background(), "fake", nil, nil, schema)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}

		m, ok := out.(map[string]any)
		if !ok {
			t.Fatalf("output = %T", out)
		}

		status, _ := m["status"].(string)
		if status != "ok" && status != "degraded" {
			t.Errorf("status = %v", m["status"])
		}

		score, ok := m["score"].(float64)
		if !ok || score < 10 || score > 20 {
			t.Errorf("score = %v", m["score"])
		}

		count, ok := m["count"].(int64)
		if !ok || count < 1 || count > 5 {
			t.Errorf("count = %v", m["count"])
		}

		tags, ok := m["tags"].([]any)
		if !ok || len(tags) < 2 || len(tags) > 4 {
			t.Errorf("tags = %v", m["tags"])
		}

		when, _ := m["when"].(string)
		if _, err := time.Parse(time.RFC3339, when); err != nil {
			t.Errorf("when = %q: %v", when, err)
		}
	}
}

func TestTestRunner_SynthesizeOptionalProperties(t *testing.T) {
	r := NewTestRunner(nil, nil, WithSeed(3))

	schema := map[string]any{
		"type":     "object",
		"required": []any{"always"},
		"properties": map[string]any{
			"always":    map[string]any{"type": "boolean"},
			"sometimes": map[string]any{"type": "boolean"},
		},
	}

	sawPresent, sawAbsent := false, false
	for i := 0; i < 50; i++ {
		out, err := r.Execute(context.Background(), "fake", nil, nil, schema)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		m := out.(map[string]any)
		if _, ok := m["always"]; !ok {
			t.Fatal("required property missing")
		}
		if _, ok := m["sometimes"]; ok {
			sawPresent = true
		} else {
			sawAbsent = true
		}
	}

	if !sawPresent || !sawAbsent {
		t.Errorf("optional property never varied: present=%v absent=%v", sawPresent, sawAbsent)
	}
}

func TestTestRunner_SynthesizeUnknownTypeIsNil(t *testing.T) {
	r := NewTestRunner(nil, nil, WithSeed(1))

	out, err := r.Execute(context.Background(), "fake", nil, nil, map[string]any{"type": "wobble"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != nil {
		t.Errorf("output = %v, want nil", out)
	}
}

func TestTestRunner_RealModeRequiresRunner(t *testing.T) {
	r := NewTestRunner(nil, func(string, any, map[string]any) Decision {
		return Decision{Mode: ModeReal}
	}, WithSeed(1))

	_, err := r.Execute(context.Background(), "binance", nil, nil, nil)
	if err == nil {
		t.Fatal("expected error when real mode has no production runner")
	}
}

type recordingRunner struct {
	calls int
}

func (r *recordingRunner) Execute(_ context.Context, _ string, _ any, _, _ map[string]any) (any, error) {
	r.calls++
	return map[string]any{"real": true}, nil
}

func TestTestRunner_RealModeDelegates(t *testing.T) {
	real := &recordingRunner{}
	r := NewTestRunner(real, func(toolID string, _ any, _ map[string]any) Decision {
		if toolID == "binance" {
			return Decision{Mode: ModeReal}
		}
		return Decision{Mode: ModeTest, Result: map[string]any{"real": false}}
	}, WithSeed(1))

	out, err := r.Execute(context.Background(), "binance", nil, nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.(map[string]any)["real"] != true {
		t.Errorf("output = %v", out)
	}
	if real.calls != 1 {
		t.Errorf("real runner calls = %d", real.calls)
	}

	out, err = r.Execute(context.Background(), "telegram-bot", nil, nil, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.(map[string]any)["real"] != false {
		t.Errorf("output = %v", out)
	}
	if real.calls != 1 {
		t.Errorf("real runner calls = %d", real.calls)
	}
}
