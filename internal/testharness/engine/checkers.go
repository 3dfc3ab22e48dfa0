package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ToFloat64 converts numeric types and numeric strings to float64. Jeedom
// reports most values as strings.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func missing(key, output string, expected any) *ExpectResult {
	return &ExpectResult{
		Key:      key,
		Expected: expected,
		Passed:   false,
		Message:  fmt.Sprintf("output key %q not found", output),
	}
}

// CheckerValueIsNull checks whether the "value" output is null. The
// expected value is a bool.
func CheckerValueIsNull(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyValue)
	isNull := !exists || actual == nil
	expectNull, _ := expected.(bool)
	return &ExpectResult{
		Key:      key,
		Expected: expected,
		Actual:   actual,
		Passed:   isNull == expectNull,
		Message:  fmt.Sprintf("value is null = %v (expected %v)", isNull, expectNull),
	}
}

// CheckerValueIn checks that the "value" output is one of a list.
func CheckerValueIn(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyValue)
	if !exists {
		return missing(key, KeyValue, expected)
	}
	list, ok := expected.([]any)
	if !ok {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: fmt.Sprintf("value_in expects a list, got %T", expected),
		}
	}
	s := valueToString(actual)
	for _, item := range list {
		if valueToString(item) == s {
			return &ExpectResult{
				Key: key, Expected: expected, Actual: actual, Passed: true,
				Message: fmt.Sprintf("%s in %v", s, list),
			}
		}
	}
	return &ExpectResult{
		Key: key, Expected: expected, Actual: actual, Passed: false,
		Message: fmt.Sprintf("%s not in %v", s, list),
	}
}

// CheckerValueNot checks that the "value" output differs from expected.
func CheckerValueNot(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyValue)
	if !exists {
		return missing(key, KeyValue, expected)
	}
	passed := valueToString(actual) != valueToString(expected)
	return &ExpectResult{
		Key: key, Expected: expected, Actual: actual, Passed: passed,
		Message: fmt.Sprintf("%s != %s = %v", valueToString(actual), valueToString(expected), passed),
	}
}

func compareValue(key string, expected any, state *ExecutionState, op string, cmp func(a, b float64) bool) *ExpectResult {
	actual, exists := state.Get(KeyValue)
	if !exists {
		return missing(key, KeyValue, expected)
	}
	a, ok1 := ToFloat64(actual)
	b, ok2 := ToFloat64(expected)
	if !ok1 || !ok2 {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: fmt.Sprintf("cannot compare non-numeric values: %T and %T", actual, expected),
		}
	}
	passed := cmp(a, b)
	return &ExpectResult{
		Key: key, Expected: expected, Actual: actual, Passed: passed,
		Message: fmt.Sprintf("%v %s %v = %v", a, op, b, passed),
	}
}

// CheckerValueGTE checks value >= expected.
func CheckerValueGTE(key string, expected any, state *ExecutionState) *ExpectResult {
	return compareValue(key, expected, state, ">=", func(a, b float64) bool { return a >= b })
}

// CheckerValueLTE checks value <= expected.
func CheckerValueLTE(key string, expected any, state *ExecutionState) *ExpectResult {
	return compareValue(key, expected, state, "<=", func(a, b float64) bool { return a <= b })
}

// containsSet normalizes a list or map output to a set of strings.
func containsSet(actual any) (map[string]bool, bool) {
	set := make(map[string]bool)
	switch a := actual.(type) {
	case []any:
		for _, item := range a {
			set[valueToString(item)] = true
		}
	case []string:
		for _, item := range a {
			set[item] = true
		}
	case map[string]any:
		for k := range a {
			set[k] = true
		}
	default:
		return nil, false
	}
	return set, true
}

func expectedItems(expected any) []string {
	if list, ok := expected.([]any); ok {
		items := make([]string, len(list))
		for i, item := range list {
			items[i] = valueToString(item)
		}
		return items
	}
	return []string{valueToString(expected)}
}

// CheckerContains checks that the "value" list (or map keys) holds every
// expected item. The expected value is an item or a list of items.
func CheckerContains(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyValue)
	if !exists {
		return missing(key, KeyValue, expected)
	}
	set, ok := containsSet(actual)
	if !ok {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: fmt.Sprintf("value is neither array nor map: %T", actual),
		}
	}
	var absent []string
	for _, item := range expectedItems(expected) {
		if !set[item] {
			absent = append(absent, item)
		}
	}
	if len(absent) > 0 {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: fmt.Sprintf("missing: %v", absent),
		}
	}
	return &ExpectResult{
		Key: key, Expected: expected, Actual: actual, Passed: true,
		Message: "contains all expected items",
	}
}

// CheckerNotContains checks that the "value" list (or map keys) holds none
// of the expected items.
func CheckerNotContains(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyValue)
	if !exists {
		return missing(key, KeyValue, expected)
	}
	set, ok := containsSet(actual)
	if !ok {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: fmt.Sprintf("value is neither array nor map: %T", actual),
		}
	}
	var present []string
	for _, item := range expectedItems(expected) {
		if set[item] {
			present = append(present, item)
		}
	}
	return &ExpectResult{
		Key: key, Expected: expected, Actual: actual, Passed: len(present) == 0,
		Message: fmt.Sprintf("unexpected: %v", present),
	}
}

// CheckerSaveAs saves the current step output under the given name, for a
// later value_equals.
func CheckerSaveAs(key string, expected any, state *ExecutionState) *ExpectResult {
	targetKey, ok := expected.(string)
	if !ok {
		return &ExpectResult{
			Key:      key,
			Expected: expected,
			Passed:   false,
			Message:  fmt.Sprintf("save_as target must be a string, got %T", expected),
		}
	}

	output, exists := state.Get(InternalStepOutput)
	if !exists {
		return &ExpectResult{
			Key:      key,
			Expected: expected,
			Passed:   false,
			Message:  "no step output to save",
		}
	}

	state.Set(targetKey, output)
	return &ExpectResult{
		Key:      key,
		Expected: expected,
		Actual:   output,
		Passed:   true,
		Message:  fmt.Sprintf("saved step output as %q", targetKey),
	}
}

// CheckerValueEquals compares the current step output with an output saved
// with save_as. Every key of the saved output must match.
func CheckerValueEquals(key string, expected any, state *ExecutionState) *ExpectResult {
	savedName, ok := expected.(string)
	if !ok {
		return &ExpectResult{
			Key:      key,
			Expected: expected,
			Passed:   false,
			Message:  fmt.Sprintf("value_equals target must be a string, got %T", expected),
		}
	}

	savedVal, exists := state.Get(savedName)
	if !exists {
		return &ExpectResult{
			Key:      key,
			Expected: savedName,
			Passed:   false,
			Message:  fmt.Sprintf("saved value %q not found", savedName),
		}
	}

	currentOutput, _ := state.Get(InternalStepOutput)
	savedMap, savedIsMap := savedVal.(map[string]any)
	currentMap, currentIsMap := currentOutput.(map[string]any)

	if savedIsMap && currentIsMap {
		var mismatches []string
		for _, k := range sortedKeys(savedMap) {
			sv := savedMap[k]
			cv, has := currentMap[k]
			if !has || valueToString(sv) != valueToString(cv) {
				mismatches = append(mismatches, fmt.Sprintf("%s: saved=%v current=%v", k, sv, cv))
			}
		}
		msg := "values match"
		if len(mismatches) > 0 {
			msg = fmt.Sprintf("mismatches: %v", mismatches)
		}
		return &ExpectResult{
			Key:      key,
			Expected: savedVal,
			Actual:   currentOutput,
			Passed:   len(mismatches) == 0,
			Message:  msg,
		}
	}

	passed := valueToString(savedVal) == valueToString(currentOutput)
	return &ExpectResult{
		Key:      key,
		Expected: savedVal,
		Actual:   currentOutput,
		Passed:   passed,
		Message:  fmt.Sprintf("saved=%v current=%v", savedVal, currentOutput),
	}
}

// CheckerErrorMessageContains checks the text of the error returned by the
// step action.
func CheckerErrorMessageContains(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyErrorMessage)
	if !exists {
		return &ExpectResult{
			Key:      key,
			Expected: expected,
			Passed:   false,
			Message:  "the action did not fail",
		}
	}

	actualStr, _ := actual.(string)
	expectedStr := valueToString(expected)
	passed := strings.Contains(actualStr, expectedStr)
	return &ExpectResult{
		Key:      key,
		Expected: expected,
		Actual:   actual,
		Passed:   passed,
		Message:  fmt.Sprintf("error message contains %q: %v", expectedStr, passed),
	}
}

// CheckerNoError verifies the "error" output is absent or false.
func CheckerNoError(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyError)
	if !exists || actual == nil || actual == false || actual == "" {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: true,
			Message: "no error present",
		}
	}
	msg, _ := state.Get(KeyErrorMessage)
	return &ExpectResult{
		Key: key, Expected: expected, Actual: actual, Passed: false,
		Message: fmt.Sprintf("error present: %v", msg),
	}
}

// CheckerDurationUnder checks that the "duration" output is under the
// expected threshold ("500ms", or a number of milliseconds).
func CheckerDurationUnder(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get("duration")
	if !exists {
		return missing(key, "duration", expected)
	}

	threshold, err := parseDuration(expected)
	if err != nil {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: fmt.Sprintf("invalid threshold %v: %v", expected, err),
		}
	}
	actualDur, err := parseDuration(actual)
	if err != nil {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: fmt.Sprintf("cannot parse actual value %v as duration", actual),
		}
	}

	passed := actualDur < threshold
	return &ExpectResult{
		Key: key, Expected: expected, Actual: actual, Passed: passed,
		Message: fmt.Sprintf("%v < %v = %v", actualDur, threshold, passed),
	}
}

// parseDuration accepts a time.Duration, a duration string or a number of
// milliseconds.
func parseDuration(v any) (time.Duration, error) {
	switch val := v.(type) {
	case time.Duration:
		return val, nil
	case string:
		return time.ParseDuration(val)
	case int:
		return time.Duration(val) * time.Millisecond, nil
	case int64:
		return time.Duration(val) * time.Millisecond, nil
	case float64:
		return time.Duration(val * float64(time.Millisecond)), nil
	default:
		return 0, fmt.Errorf("unsupported duration type %T", v)
	}
}

// CheckerPayloadJSON checks fields of the JSON "payload" output. The
// expected value maps gjson paths to values; a null value expects the path
// to be absent or null.
func CheckerPayloadJSON(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(KeyPayload)
	if !exists {
		return missing(key, KeyPayload, expected)
	}
	var payload string
	switch p := actual.(type) {
	case string:
		payload = p
	case []byte:
		payload = string(p)
	default:
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: fmt.Sprintf("payload is not text: %T", actual),
		}
	}
	if !gjson.Valid(payload) {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: "payload is not valid JSON",
		}
	}
	paths, ok := expected.(map[string]any)
	if !ok {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: fmt.Sprintf("payload_json expects a map of paths, got %T", expected),
		}
	}

	var mismatches []string
	for _, path := range sortedKeys(paths) {
		want := paths[path]
		got := gjson.Get(payload, path)
		if want == nil {
			if got.Exists() && got.Type != gjson.Null {
				mismatches = append(mismatches, fmt.Sprintf("%s: expected null, got %s", path, got.Raw))
			}
			continue
		}
		if !got.Exists() {
			mismatches = append(mismatches, fmt.Sprintf("%s: missing", path))
			continue
		}
		if got.String() != valueToString(want) {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %s, got %s", path, valueToString(want), got.String()))
		}
	}
	if len(mismatches) > 0 {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual, Passed: false,
			Message: strings.Join(mismatches, "; "),
		}
	}
	return &ExpectResult{
		Key: key, Expected: expected, Actual: actual, Passed: true,
		Message: fmt.Sprintf("%d paths match", len(paths)),
	}
}

// RegisterCheckers registers the checkers above with the engine.
func RegisterCheckers(e *Engine) {
	e.RegisterChecker(CheckerNameValueIsNull, CheckerValueIsNull)
	e.RegisterChecker(CheckerNameValueIn, CheckerValueIn)
	e.RegisterChecker(CheckerNameValueNot, CheckerValueNot)
	e.RegisterChecker(CheckerNameValueGTE, CheckerValueGTE)
	e.RegisterChecker(CheckerNameValueLTE, CheckerValueLTE)
	e.RegisterChecker(CheckerNameContains, CheckerContains)
	e.RegisterChecker(CheckerNameNotContains, CheckerNotContains)
	e.RegisterChecker(CheckerNameSaveAs, CheckerSaveAs)
	e.RegisterChecker(CheckerNameValueEquals, CheckerValueEquals)
	e.RegisterChecker(CheckerNameErrorMessageContains, CheckerErrorMessageContains)
	e.RegisterChecker(CheckerNameNoError, CheckerNoError)
	e.RegisterChecker(CheckerNameDurationUnder, CheckerDurationUnder)
	e.RegisterChecker(CheckerNamePayloadJSON, CheckerPayloadJSON)
}
