package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RenderContext holds the three roots visible to template expressions inside
// a fixed-input node's output: the parent's output, the workflow invocation
// context, and a state snapshot.
type RenderContext struct {
	Input   any
	Context map[string]any
	State   map[string]any
}

var exprPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// renderValue walks a fixed-input output tree. Strings go through the
// template evaluator, arrays and objects recurse preserving order and keys,
// all other scalars pass through untouched.
func renderValue(v any, rctx RenderContext, nodeID string, strict bool) (any, error) {
	switch val := v.(type) {
	case string:
		return renderString(val, rctx, nodeID, strict)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rendered, err := renderValue(item, rctx, nodeID, strict)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			rendered, err := renderValue(item, rctx, nodeID, strict)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// renderString evaluates every {{path}} expression in s. A string that is
// exactly one expression resolves to the referenced value with its type
// preserved; mixed strings interpolate with stringification.
func renderString(s string, rctx RenderContext, nodeID string, strict bool) (any, error) {
	matches := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-string expression keeps the resolved value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return resolveExpr(s[matches[0][2]:matches[0][3]], rctx, nodeID, strict)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		resolved, err := resolveExpr(s[m[2]:m[3]], rctx, nodeID, strict)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(resolved))
		last = m[1]
	}
	b.WriteString(s[last:])

	return b.String(), nil
}

// resolveExpr resolves one dotted-path expression against the render
// context. Lookups below input and context have strict-undefined semantics:
// an absent or null segment raises *ReferenceError. State misses resolve to
// nil; unknown roots are plain rendering errors.
func resolveExpr(expr string, rctx RenderContext, nodeID string, strict bool) (any, error) {
	path := strings.TrimSpace(expr)
	if path == "" {
		return nil, fmt.Errorf("empty template expression")
	}

	segments := strings.Split(path, ".")

	switch segments[0] {
	case "input":
		return lookupStrict("input", rctx.Input, segments[1:], nodeID, strict)
	case "context":
		return lookupStrict("context", mapRoot(rctx.Context), segments[1:], nodeID, strict)
	case "state":
		return lookupLoose(mapRoot(rctx.State), segments[1:])
	default:
		return nil, fmt.Errorf("unknown template root %q in {{%s}}", segments[0], path)
	}
}

func mapRoot(m map[string]any) any {
	if m == nil {
		return nil
	}

	return m
}

// lookupStrict descends segment by segment. Missing or null values raise a
// reference error (or resolve to "" when strict mode is off); descending
// into a scalar is an ordinary rendering error.
func lookupStrict(kind string, root any, segments []string, nodeID string, strict bool) (any, error) {
	cur := root
	for _, seg := range segments {
		next, found, err := step(cur, seg)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", kind, strings.Join(segments, "."), err)
		}
		if !found || next == nil {
			if !strict {
				return "", nil
			}
			return nil, &ReferenceError{
				Kind:   kind,
				Path:   strings.Join(segments, "."),
				NodeID: nodeID,
			}
		}
		cur = next
	}

	return cur, nil
}

// lookupLoose is the state-root variant: misses resolve to nil.
func lookupLoose(root any, segments []string) (any, error) {
	cur := root
	for _, seg := range segments {
		next, found, err := step(cur, seg)
		if err != nil || !found {
			return nil, err
		}
		cur = next
	}

	return cur, nil
}

// step resolves one path segment: map key, or numeric index into an array.
// found=false means the container does not hold the segment; an error means
// the current value cannot be descended into at all.
func step(cur any, seg string) (any, bool, error) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[seg]
		return v, ok, nil
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return nil, false, fmt.Errorf("array index expected, got %q", seg)
		}
		if idx < 0 || idx >= len(c) {
			return nil, false, nil
		}
		return c[idx], true, nil
	case nil:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("cannot descend into %T with segment %q", cur, seg)
	}
}

// stringify renders a resolved value for interpolation into a larger string.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
