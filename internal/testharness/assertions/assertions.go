// Package assertions provides assertion helpers for the jMQTT harness
// handlers: value equality, timing tolerance and daemon state checks.
package assertions

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/assert"

	"github.com/domotruc/jmqtt-test/pkg/model"
)

// Result represents the outcome of an assertion.
type Result struct {
	// Passed indicates if the assertion passed.
	Passed bool

	// Message describes the assertion result.
	Message string

	// Expected is the expected value (for error messages).
	Expected any

	// Actual is the actual value (for error messages).
	Actual any
}

// Pass creates a passing result.
func Pass(message string) *Result {
	return &Result{Passed: true, Message: message}
}

// Fail creates a failing result.
func Fail(message string, expected, actual any) *Result {
	return &Result{
		Passed:   false,
		Message:  message,
		Expected: expected,
		Actual:   actual,
	}
}

// Err converts a failed result into an error, nil when it passed.
func (r *Result) Err() error {
	if r == nil || r.Passed {
		return nil
	}
	if r.Expected == nil && r.Actual == nil {
		return errors.New(r.Message)
	}
	return fmt.Errorf("%s: expected %v, got %v", r.Message, r.Expected, r.Actual)
}

// Equal asserts that two values are equal. Values of different types are
// never equal: "1" and 1 differ.
func Equal(expected, actual any) *Result {
	if assert.ObjectsAreEqual(expected, actual) {
		return Pass(fmt.Sprintf("values are equal: %v", expected))
	}
	return Fail("values are not equal", expected, actual)
}

// NotEqual asserts that two values differ.
func NotEqual(expected, actual any) *Result {
	if !assert.ObjectsAreEqual(expected, actual) {
		return Pass("values are not equal")
	}
	return Fail("values should not be equal", "different", actual)
}

// Lines asserts that two line lists are equal, failing with a unified diff.
func Lines(expected, actual []string) *Result {
	if assert.ObjectsAreEqual(expected, actual) {
		return Pass(fmt.Sprintf("%d lines match", len(expected)))
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        withNewline(expected),
		B:        withNewline(actual),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  1,
	})
	return &Result{Message: "lines differ\n" + diff}
}

func withNewline(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}

// Contains asserts that a string, slice or map holds element.
func Contains(container, element any) *Result {
	if s, ok := container.(string); ok {
		if sub, ok := element.(string); ok && strings.Contains(s, sub) {
			return Pass(fmt.Sprintf("%q contains %q", s, sub))
		}
		return Fail("string does not contain element", element, container)
	}

	v := reflect.ValueOf(container)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if assert.ObjectsAreEqual(v.Index(i).Interface(), element) {
				return Pass(fmt.Sprintf("contains %v", element))
			}
		}
	case reflect.Map:
		key := reflect.ValueOf(element)
		if key.IsValid() && key.Type().AssignableTo(v.Type().Key()) && v.MapIndex(key).IsValid() {
			return Pass(fmt.Sprintf("contains key %v", element))
		}
	default:
		return Fail("container type not supported", element, container)
	}
	return Fail("element not found", element, container)
}

// Len asserts the length of a string, slice or map.
func Len(collection any, expectedLen int) *Result {
	v := reflect.ValueOf(collection)
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map, reflect.Chan:
		if v.Len() == expectedLen {
			return Pass(fmt.Sprintf("length is %d", expectedLen))
		}
		return Fail("unexpected length", expectedLen, v.Len())
	}
	return Fail("value has no length", expectedLen, collection)
}

// TimingResult is the outcome of a time comparison.
type TimingResult struct {
	*Result
	Delta     time.Duration
	Tolerance time.Duration
}

// WithinTolerance asserts that actual lies within tolerance of ref, in
// either direction.
func WithinTolerance(actual, ref time.Time, tolerance time.Duration) *TimingResult {
	delta := actual.Sub(ref)
	if delta < 0 {
		delta = -delta
	}
	r := &TimingResult{Delta: delta, Tolerance: tolerance}
	if delta <= tolerance {
		r.Result = Pass(fmt.Sprintf("%s is within %v of %s", actual.Format(time.DateTime), tolerance, ref.Format(time.DateTime)))
	} else {
		r.Result = Fail(fmt.Sprintf("time off by %v (tolerance %v)", delta, tolerance),
			ref.Format(time.DateTime), actual.Format(time.DateTime))
	}
	return r
}

// WithinDuration asserts that a measured duration stays under limit.
func WithinDuration(actual, limit time.Duration) *TimingResult {
	r := &TimingResult{Delta: actual, Tolerance: limit}
	if actual <= limit {
		r.Result = Pass(fmt.Sprintf("%v within %v", actual, limit))
	} else {
		r.Result = Fail("duration exceeds limit", limit, actual)
	}
	return r
}

// StateResult is the outcome of a daemon state comparison.
type StateResult struct {
	*Result
	ExpectedState model.DaemonState
	ActualState   model.DaemonState
}

// DaemonState asserts the state of a broker daemon.
func DaemonState(actual, expected model.DaemonState) *StateResult {
	r := &StateResult{ExpectedState: expected, ActualState: actual}
	if actual == expected {
		r.Result = Pass("daemon is " + string(actual))
	} else {
		r.Result = Fail("unexpected daemon state", expected, actual)
	}
	return r
}

// NoError asserts that err is nil.
func NoError(err error) *Result {
	if err == nil {
		return Pass("no error")
	}
	return Fail("unexpected error", nil, err.Error())
}

// ErrorContains asserts that err is set and its message holds substr.
func ErrorContains(err error, substr string) *Result {
	if err == nil {
		return Fail("expected an error", substr, nil)
	}
	if strings.Contains(err.Error(), substr) {
		return Pass("error contains " + substr)
	}
	return Fail("error does not contain substring", substr, err.Error())
}

// ErrorIs asserts that err wraps target.
func ErrorIs(err, target error) *Result {
	if errors.Is(err, target) {
		return Pass(fmt.Sprintf("error is %v", target))
	}
	return Fail("error does not match", target, err)
}
