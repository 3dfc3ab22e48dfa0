package runner

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// paramString returns a string parameter, def when absent or empty.
// Numbers and booleans from YAML are formatted.
func paramString(params map[string]any, key, def string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	case uint64:
		s = strconv.FormatUint(x, 10)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(x)
	default:
		s = fmt.Sprint(x)
	}
	if s == "" {
		return def
	}
	return s
}

// requireString returns a mandatory string parameter.
func requireString(params map[string]any, key string) (string, error) {
	s := paramString(params, key, "")
	if s == "" {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	return s, nil
}

func paramBool(params map[string]any, key string, def bool) bool {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	b, ok := toBool(v)
	if !ok {
		return def
	}
	return b
}

// toBool accepts YAML booleans, 0/1 and the usual words.
func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int:
		return x != 0, true
	case int64:
		return x != 0, true
	case uint64:
		return x != 0, true
	case float64:
		return x != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off", "":
			return false, true
		}
	}
	return false, false
}

func paramInt(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("parameter %q: %T is not an integer", key, v)
}

// paramDuration reads "1s" style strings or a number of milliseconds.
func paramDuration(params map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case string:
		d, err := time.ParseDuration(x)
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", key, err)
		}
		return d, nil
	case int:
		return time.Duration(x) * time.Millisecond, nil
	case int64:
		return time.Duration(x) * time.Millisecond, nil
	case uint64:
		return time.Duration(x) * time.Millisecond, nil
	case float64:
		return time.Duration(x * float64(time.Millisecond)), nil
	}
	return 0, fmt.Errorf("parameter %q: %T is not a duration", key, v)
}

// paramStrings reads a list parameter. A single string is a one element
// list.
func paramStrings(params map[string]any, key string) []string {
	switch x := params[key].(type) {
	case nil:
		return nil
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, v := range x {
			out = append(out, paramString(map[string]any{"v": v}, "v", ""))
		}
		return out
	case string:
		return []string{x}
	}
	return nil
}

// paramMap reads a mapping parameter.
func paramMap(params map[string]any, key string) map[string]any {
	switch x := params[key].(type) {
	case map[string]any:
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[fmt.Sprint(k)] = v
		}
		return out
	}
	return nil
}

// paramPayload returns a payload parameter as bytes. Mappings and lists
// are not accepted: scenarios give JSON payloads as strings.
func paramPayload(params map[string]any, key string) []byte {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	return []byte(paramString(params, key, ""))
}
