package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// variablePattern matches {{ variable }} and {{ variable.field }} templates.
var variablePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)\s*\}\}`)

// Interpolate replaces {{ variable }} placeholders in a string with values
// from state. Undefined variables are left unchanged.
func Interpolate(template string, state *ExecutionState) string {
	if state == nil {
		return template
	}

	return variablePattern.ReplaceAllStringFunc(template, func(match string) string {
		submatches := variablePattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}
		value, exists := lookup(state, submatches[1])
		if !exists {
			return match
		}
		return valueToString(value)
	})
}

// InterpolateParams recursively interpolates all string values in a params
// map. A string that is exactly "{{ var }}" keeps the type of the value;
// mixed content becomes a string. The original map is not modified.
func InterpolateParams(params map[string]any, state *ExecutionState) map[string]any {
	if params == nil {
		return nil
	}
	result := make(map[string]any, len(params))
	for key, value := range params {
		if state == nil {
			result[key] = value
			continue
		}
		result[key] = interpolateValue(value, state)
	}
	return result
}

func interpolateValue(value any, state *ExecutionState) any {
	switch v := value.(type) {
	case string:
		return interpolateString(v, state)

	case map[string]any:
		result := make(map[string]any, len(v))
		for k, val := range v {
			result[k] = interpolateValue(val, state)
		}
		return result

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			result[i] = interpolateValue(val, state)
		}
		return result

	default:
		return value
	}
}

func interpolateString(s string, state *ExecutionState) any {
	if name, ok := pureVariableName(strings.TrimSpace(s)); ok {
		if value, exists := lookup(state, name); exists {
			return value
		}
		return s
	}
	return Interpolate(s, state)
}

// pureVariableName returns the variable name when s is exactly one
// variable reference.
func pureVariableName(s string) (string, bool) {
	m := variablePattern.FindStringSubmatchIndex(s)
	if m == nil || m[0] != 0 || m[1] != len(s) {
		return "", false
	}
	return s[m[2]:m[3]], true
}

// lookup resolves a dotted name, descending into maps for every segment
// after the first.
func lookup(state *ExecutionState, name string) (any, bool) {
	if v, ok := state.Outputs[name]; ok {
		return v, true
	}
	parts := strings.Split(name, ".")
	cur, ok := state.Outputs[parts[0]]
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func valueToString(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case interface{ String() string }:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
