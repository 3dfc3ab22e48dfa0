package engine

import (
	"context"
	"testing"
	"time"
)

func stateWith(outputs map[string]any) *ExecutionState {
	s := NewExecutionState(context.Background())
	for k, v := range outputs {
		s.Set(k, v)
	}
	return s
}

func TestChecker_ValueIsNull(t *testing.T) {
	if r := CheckerValueIsNull(CheckerNameValueIsNull, true, stateWith(map[string]any{"value": nil})); !r.Passed {
		t.Errorf("nil value should be null: %s", r.Message)
	}
	if r := CheckerValueIsNull(CheckerNameValueIsNull, true, stateWith(nil)); !r.Passed {
		t.Errorf("missing value should be null: %s", r.Message)
	}
	if r := CheckerValueIsNull(CheckerNameValueIsNull, false, stateWith(map[string]any{"value": "0"})); !r.Passed {
		t.Errorf("\"0\" should not be null: %s", r.Message)
	}
	if r := CheckerValueIsNull(CheckerNameValueIsNull, true, stateWith(map[string]any{"value": ""})); r.Passed {
		t.Error("empty string is not null")
	}
}

func TestChecker_ValueCompare(t *testing.T) {
	tests := []struct {
		checker  ExpectChecker
		value    any
		expected any
		passed   bool
	}{
		{CheckerValueGTE, "21.5", 20, true},
		{CheckerValueGTE, 19, "20", false},
		{CheckerValueLTE, "75", 100, true},
		{CheckerValueLTE, "abc", 100, false},
		{CheckerValueNot, "on", "off", true},
		{CheckerValueNot, 1, "1", false},
		{CheckerValueIn, "pok", []any{"ok", "pok"}, true},
		{CheckerValueIn, "nok", []any{"ok", "pok"}, false},
		{CheckerValueIn, "ok", "ok", false},
	}
	for i, tt := range tests {
		r := tt.checker("k", tt.expected, stateWith(map[string]any{"value": tt.value}))
		if r.Passed != tt.passed {
			t.Errorf("case %d: passed = %v, want %v (%s)", i, r.Passed, tt.passed, r.Message)
		}
	}
}

func TestChecker_Contains(t *testing.T) {
	state := stateWith(map[string]any{"value": []any{"jeedom/status", "lamp/set", 3}})

	if r := CheckerContains(CheckerNameContains, []any{"lamp/set", 3}, state); !r.Passed {
		t.Errorf("expected pass: %s", r.Message)
	}
	if r := CheckerContains(CheckerNameContains, "lamp/get", state); r.Passed {
		t.Error("expected failure")
	}
	if r := CheckerNotContains(CheckerNameNotContains, "lamp/get", state); !r.Passed {
		t.Errorf("expected pass: %s", r.Message)
	}
	if r := CheckerNotContains(CheckerNameNotContains, []any{"lamp/get", "lamp/set"}, state); r.Passed {
		t.Error("expected failure")
	}

	keys := stateWith(map[string]any{"value": map[string]any{"lamp": 1}})
	if r := CheckerContains(CheckerNameContains, "lamp", keys); !r.Passed {
		t.Errorf("map keys should be matched: %s", r.Message)
	}
	if r := CheckerContains(CheckerNameContains, "x", stateWith(map[string]any{"value": 3})); r.Passed {
		t.Error("a scalar cannot contain anything")
	}
}

// TestChecker_SaveAs tests save_as followed by value_equals.
func TestChecker_SaveAs(t *testing.T) {
	state := stateWith(map[string]any{InternalStepOutput: map[string]any{"id": "12", "value": "on"}})

	if r := CheckerSaveAs(CheckerNameSaveAs, "before", state); !r.Passed {
		t.Fatalf("save_as failed: %s", r.Message)
	}
	if r := CheckerValueEquals(CheckerNameValueEquals, "before", state); !r.Passed {
		t.Errorf("value_equals should pass: %s", r.Message)
	}

	state.Set(InternalStepOutput, map[string]any{"id": "12", "value": "off"})
	if r := CheckerValueEquals(CheckerNameValueEquals, "before", state); r.Passed {
		t.Error("value_equals should fail after a change")
	}
	if r := CheckerValueEquals(CheckerNameValueEquals, "missing", state); r.Passed {
		t.Error("value_equals should fail for an unknown name")
	}
	if r := CheckerSaveAs(CheckerNameSaveAs, 3, state); r.Passed {
		t.Error("save_as target must be a string")
	}
}

func TestChecker_Errors(t *testing.T) {
	failed := stateWith(map[string]any{KeyError: true, KeyErrorMessage: "equipment host/ghost: not found"})
	ok := stateWith(map[string]any{KeyError: false})

	if r := CheckerErrorMessageContains(CheckerNameErrorMessageContains, "not found", failed); !r.Passed {
		t.Errorf("expected pass: %s", r.Message)
	}
	if r := CheckerErrorMessageContains(CheckerNameErrorMessageContains, "timeout", failed); r.Passed {
		t.Error("expected failure")
	}
	if r := CheckerErrorMessageContains(CheckerNameErrorMessageContains, "x", ok); r.Passed {
		t.Error("expected failure without error")
	}
	if r := CheckerNoError(CheckerNameNoError, true, ok); !r.Passed {
		t.Errorf("expected pass: %s", r.Message)
	}
	if r := CheckerNoError(CheckerNameNoError, true, failed); r.Passed {
		t.Error("expected failure")
	}
}

func TestChecker_DurationUnder(t *testing.T) {
	state := stateWith(map[string]any{"duration": 300 * time.Millisecond})
	if r := CheckerDurationUnder(CheckerNameDurationUnder, "1s", state); !r.Passed {
		t.Errorf("expected pass: %s", r.Message)
	}
	if r := CheckerDurationUnder(CheckerNameDurationUnder, 200, state); r.Passed {
		t.Error("expected failure")
	}
	if r := CheckerDurationUnder(CheckerNameDurationUnder, "soon", state); r.Passed {
		t.Error("expected failure for an invalid threshold")
	}
}

func TestChecker_PayloadJSON(t *testing.T) {
	state := stateWith(map[string]any{
		KeyPayload: `{"id":"7","method":"ping","result":{"value":"pong","state":null},"list":[1,2]}`,
	})

	r := CheckerPayloadJSON(CheckerNamePayloadJSON, map[string]any{
		"id":           7,
		"result.value": "pong",
		"result.state": nil,
		"absent":       nil,
		"list.#":       2,
	}, state)
	if !r.Passed {
		t.Errorf("expected pass: %s", r.Message)
	}

	r = CheckerPayloadJSON(CheckerNamePayloadJSON, map[string]any{"method": "version", "error": "x"}, state)
	if r.Passed {
		t.Fatal("expected failure")
	}
	if r.Message != "error: missing; method: expected version, got ping" {
		t.Errorf("unexpected message %q", r.Message)
	}

	if r := CheckerPayloadJSON(CheckerNamePayloadJSON, map[string]any{}, stateWith(map[string]any{KeyPayload: "online"})); r.Passed {
		t.Error("a non JSON payload should fail")
	}
	if r := CheckerPayloadJSON(CheckerNamePayloadJSON, map[string]any{}, stateWith(nil)); r.Passed {
		t.Error("a missing payload should fail")
	}
}

func TestToFloat64(t *testing.T) {
	for _, v := range []any{3, int64(3), 3.0, float32(3), uint(3), " 3 ", "3.0"} {
		if f, ok := ToFloat64(v); !ok || f != 3 {
			t.Errorf("ToFloat64(%#v) = %v, %v", v, f, ok)
		}
	}
	if _, ok := ToFloat64("on"); ok {
		t.Error("\"on\" is not a number")
	}
	if _, ok := ToFloat64(nil); ok {
		t.Error("nil is not a number")
	}
}
