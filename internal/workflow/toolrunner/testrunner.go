package toolrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rxtech-lab/rxflow/internal/service"
)

// Mode selects how the test runner handles one tool call.
type Mode string

const (
	// ModeReal delegates to the production runner.
	ModeReal Mode = "real"

	// ModeTest short-circuits with Decision.Result, or a value synthesised
	// from the tool's output schema when Result is nil.
	ModeTest Mode = "test"
)

// Decision is a policy's verdict for a single tool call.
type Decision struct {
	Mode   Mode
	Result any
}

// Policy is consulted once per tool call. A nil policy treats every call
// as ModeTest with a synthesised result (dry-run).
type Policy func(toolIdentifier string, input any, outputSchema map[string]any) Decision

// TestRunner wraps a production runner for tests and dry runs. Before
// dispatching it validates the input against the tool's input schema, and
// it records per-tool call counts and the most recent call's input.
type TestRunner struct {
	real   service.ToolRunner
	policy Policy

	mu         sync.Mutex
	counts     map[string]int
	lastInputs map[string]any
	rng        *rand.Rand
}

var _ service.ToolRunner = (*TestRunner)(nil)

// TestOption configures a TestRunner.
type TestOption func(*TestRunner)

// WithSeed makes synthesis deterministic.
func WithSeed(seed uint64) TestOption {
	return func(t *TestRunner) {
		t.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// NewTestRunner creates a test runner. real may be nil when the policy
// never returns ModeReal.
func NewTestRunner(real service.ToolRunner, policy Policy, opts ...TestOption) *TestRunner {
	t := &TestRunner{
		real:       real,
		policy:     policy,
		counts:     make(map[string]int),
		lastInputs: make(map[string]any),
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// CallCount returns how many times the tool was invoked.
func (t *TestRunner) CallCount(toolIdentifier string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.counts[toolIdentifier]
}

// LastInput returns the input of the tool's most recent call, or nil.
func (t *TestRunner) LastInput(toolIdentifier string) any {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.lastInputs[toolIdentifier]
}

// Execute validates the input, records the call, and dispatches per the
// policy decision.
func (t *TestRunner) Execute(ctx context.Context, toolIdentifier string, input any, inputSchema, outputSchema map[string]any) (any, error) {
	normalized, err := normalizeJSON(input)
	if err != nil {
		return nil, fmt.Errorf("tool %q: input is not JSON-serialisable: %w", toolIdentifier, err)
	}

	if len(inputSchema) > 0 {
		if err := validateAgainstSchema(normalized, inputSchema); err != nil {
			return nil, fmt.Errorf("tool %q input validation failed: %w", toolIdentifier, err)
		}
	}

	t.mu.Lock()
	t.counts[toolIdentifier]++
	t.lastInputs[toolIdentifier] = normalized
	t.mu.Unlock()

	decision := Decision{Mode: ModeTest}
	if t.policy != nil {
		decision = t.policy(toolIdentifier, normalized, outputSchema)
	}

	switch decision.Mode {
	case ModeReal:
		if t.real == nil {
			return nil, fmt.Errorf("tool %q: policy requested real mode but no production runner is configured", toolIdentifier)
		}
		return t.real.Execute(ctx, toolIdentifier, input, inputSchema, outputSchema)
	default:
		if decision.Result != nil {
			return normalizeJSON(decision.Result)
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.synthesize(outputSchema), nil
	}
}

// normalizeJSON round-trips a value through JSON so validation and
// recording always see plain maps/slices/float64 regardless of how the
// value was produced (goja exports, Go literals, decoded documents).
func normalizeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// validateAgainstSchema compiles the JSON Schema (format assertions on)
// and validates the instance, flattening the validator's output into one
// composite message listing each violation.
func validateAgainstSchema(instance any, schema map[string]any) error {
	schemaDoc, err := normalizeJSON(schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	err = compiled.Validate(instance)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return errors.New(strings.Join(violationLines(ve), "; "))
	}

	return err
}

// violationLines turns the validator's multi-line report into individual
// violation strings.
func violationLines(ve *jsonschema.ValidationError) []string {
	lines := strings.Split(ve.Error(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "- "); ok {
			out = append(out, rest)
		}
	}
	if len(out) == 0 {
		out = append(out, strings.TrimSpace(lines[0]))
	}

	return out
}

// ─── Schema-driven synthesis ───

var sentenceWords = []string{
	"alpha", "signal", "window", "ledger", "cursor", "harbor", "meadow",
	"copper", "lantern", "summit", "ripple", "quartz", "cedar", "marble",
}

// synthesize fabricates a value satisfying the schema: enums and string
// formats are honoured, numeric and array bounds are respected, objects
// always carry required properties and each optional one with probability
// one half. Unknown types yield nil. Caller holds t.mu.
func (t *TestRunner) synthesize(schema map[string]any) any {
	if schema == nil {
		return nil
	}

	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
		return enum[t.rng.IntN(len(enum))]
	}

	typ, _ := schema["type"].(string)
	switch typ {
	case "string":
		return t.synthString(schema)
	case "number":
		lo, hi := numericBounds(schema, 0, 100)
		return lo + t.rng.Float64()*(hi-lo)
	case "integer":
		lo, hi := numericBounds(schema, 0, 100)
		return int64(lo) + t.rng.Int64N(int64(hi)-int64(lo)+1)
	case "boolean":
		return t.rng.IntN(2) == 0
	case "array":
		return t.synthArray(schema)
	case "object":
		return t.synthObject(schema)
	default:
		return nil
	}
}

func (t *TestRunner) synthString(schema map[string]any) string {
	format, _ := schema["format"].(string)
	switch format {
	case "email":
		return fmt.Sprintf("%s%d@example.com", sentenceWords[t.rng.IntN(len(sentenceWords))], t.rng.IntN(1000))
	case "date-time":
		return time.Unix(t.rng.Int64N(4102444800), 0).UTC().Format(time.RFC3339)
	case "uuid":
		return fmt.Sprintf("%08x-%04x-4%03x-%04x-%012x",
			t.rng.Uint32(), t.rng.Uint32()&0xffff, t.rng.Uint32()&0xfff,
			(t.rng.Uint32()&0x3fff)|0x8000, t.rng.Uint64()&0xffffffffffff)
	default:
		n := 3 + t.rng.IntN(5)
		words := make([]string, n)
		for i := range words {
			words[i] = sentenceWords[t.rng.IntN(len(sentenceWords))]
		}
		return strings.Join(words, " ")
	}
}

func (t *TestRunner) synthArray(schema map[string]any) []any {
	minItems := 1
	if v, ok := asFloat(schema["minItems"]); ok {
		minItems = int(v)
	}
	maxItems := minItems + 2
	if v, ok := asFloat(schema["maxItems"]); ok {
		maxItems = int(v)
	}
	if maxItems < minItems {
		maxItems = minItems
	}

	items, _ := schema["items"].(map[string]any)
	n := minItems + t.rng.IntN(maxItems-minItems+1)
	out := make([]any, n)
	for i := range out {
		out[i] = t.synthesize(items)
	}

	return out
}

func (t *TestRunner) synthObject(schema map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)

	required := make(map[string]struct{})
	if reqs, ok := schema["required"].([]any); ok {
		for _, r := range reqs {
			if name, ok := r.(string); ok {
				required[name] = struct{}{}
			}
		}
	}

	out := make(map[string]any, len(props))
	for name, raw := range props {
		propSchema, _ := raw.(map[string]any)
		if _, must := required[name]; !must && t.rng.IntN(2) == 1 {
			continue
		}
		out[name] = t.synthesize(propSchema)
	}

	return out
}

func numericBounds(schema map[string]any, defLo, defHi float64) (float64, float64) {
	lo, hi := defLo, defHi
	if v, ok := asFloat(schema["minimum"]); ok {
		lo = v
		if hi < lo {
			hi = lo + (defHi - defLo)
		}
	}
	if v, ok := asFloat(schema["maximum"]); ok {
		hi = v
		if _, hasMin := asFloat(schema["minimum"]); !hasMin && lo > hi {
			lo = hi - (defHi - defLo)
		}
	}
	if hi < lo {
		hi = lo
	}

	return lo, hi
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
