package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/domotruc/jmqtt-test/internal/testharness/engine"
	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
	"github.com/domotruc/jmqtt-test/pkg/version"
)

func okHandler(out map[string]any) engine.ActionHandler {
	return func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return out, nil
	}
}

// TestEngineBasic tests basic engine functionality.
func TestEngineBasic(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("add_equipment", okHandler(map[string]any{"id": "12"}))

	tc := &loader.TestCase{
		ID: "TC-001",
		Steps: []loader.Step{
			{Action: "add_equipment", Expect: map[string]any{"id": "12"}},
		},
	}

	result := e.Run(context.Background(), tc)
	if !result.Passed {
		t.Errorf("Test should pass, error: %v", result.Error)
	}
	if len(result.StepResults) != 1 {
		t.Errorf("Expected 1 step result, got %d", len(result.StepResults))
	}
}

// TestEngineSteps tests sequential execution and output interpolation.
func TestEngineSteps(t *testing.T) {
	e := engine.New()

	var seen []any
	e.RegisterHandler("add_equipment", okHandler(map[string]any{
		"equipment": map[string]any{"id": "12", "name": "lamp"},
	}))
	e.RegisterHandler("show_equipment", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		seen = append(seen, step.Params["id"], step.Params["label"])
		return nil, nil
	})

	tc := &loader.TestCase{
		ID: "TC-STEPS",
		Steps: []loader.Step{
			{Action: "add_equipment"},
			{Action: "show_equipment", Params: map[string]any{
				"id":    "{{ equipment.id }}",
				"label": "eqpt {{ equipment.name }}",
			}},
		},
	}

	result := e.Run(context.Background(), tc)
	if !result.Passed {
		t.Fatalf("Test should pass, error: %v", result.Error)
	}
	if len(seen) != 2 || seen[0] != "12" || seen[1] != "eqpt lamp" {
		t.Errorf("unexpected interpolated params %v", seen)
	}
	if tc.Steps[1].Params["id"] != "{{ equipment.id }}" {
		t.Error("the scenario params should not be modified")
	}
}

func TestEngineSkip(t *testing.T) {
	e := engine.NewWithConfig(&engine.EngineConfig{
		DefaultTimeout: time.Second,
		StepTimeout:    time.Second,
		JeedomVersion:  version.MustParse("4.1.0"),
	})
	e.RegisterHandler("wait", okHandler(nil))

	tests := []struct {
		tc     *loader.TestCase
		skip   bool
		reason string
	}{
		{&loader.TestCase{ID: "A", Skip: true, SkipReason: "flaky"}, true, "flaky"},
		{&loader.TestCase{ID: "B", Skip: true}, true, "skipped by test definition"},
		{&loader.TestCase{ID: "C", MinVersion: "4.4"}, true, "requires Jeedom 4.4"},
		{&loader.TestCase{ID: "D", MinVersion: "4.1"}, false, ""},
		{&loader.TestCase{ID: "E"}, false, ""},
	}
	for _, tt := range tests {
		tt.tc.Steps = []loader.Step{{Action: "wait"}}
		result := e.Run(context.Background(), tt.tc)
		if result.Skipped != tt.skip {
			t.Errorf("%s: skipped = %v, want %v", tt.tc.ID, result.Skipped, tt.skip)
		}
		if !strings.HasPrefix(result.SkipReason, tt.reason) {
			t.Errorf("%s: skip reason %q, want prefix %q", tt.tc.ID, result.SkipReason, tt.reason)
		}
	}
}

// TestDefaultChecker_PresentValue checks the "present" keyword.
func TestDefaultChecker_PresentValue(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("add_broker", okHandler(map[string]any{"id": "3"}))

	tc := &loader.TestCase{
		ID:    "TC-PRESENT",
		Steps: []loader.Step{{Action: "add_broker", Expect: map[string]any{"id": "present"}}},
	}
	if result := e.Run(context.Background(), tc); !result.Passed {
		t.Errorf("expected pass, got %v", result.Error)
	}

	tc.Steps[0].Expect = map[string]any{"name": "present"}
	result := e.Run(context.Background(), tc)
	if result.Passed {
		t.Fatal("expected failure for a missing key")
	}
	if !strings.Contains(result.Error.Error(), `key "name" not found`) {
		t.Errorf("unexpected error %v", result.Error)
	}
}

func TestDefaultChecker_ListOfMaps(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("capture_wait", okHandler(map[string]any{
		"messages": []any{
			map[string]any{"topic": "jeedom/status", "payload": "offline", "retained": true},
			map[string]any{"topic": "jeedom/status", "payload": "online", "retained": true},
		},
	}))

	tc := &loader.TestCase{
		ID: "TC-LIST",
		Steps: []loader.Step{{Action: "capture_wait", Expect: map[string]any{
			"messages": []any{
				map[string]any{"payload": "offline"},
				map[string]any{"payload": "online"},
			},
		}}},
	}
	if result := e.Run(context.Background(), tc); !result.Passed {
		t.Errorf("expected pass, got %v", result.Error)
	}

	tc.Steps[0].Expect["messages"] = []any{map[string]any{"payload": "online"}}
	result := e.Run(context.Background(), tc)
	if result.Passed || !strings.Contains(result.Error.Error(), "expected 1 items, got 2") {
		t.Errorf("unexpected result %v", result.Error)
	}
}

// TestEngineTimeout tests that a step is bounded by its timeout.
func TestEngineTimeout(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("slow", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, nil
		}
	})

	tc := &loader.TestCase{
		ID:    "TC-TIMEOUT",
		Steps: []loader.Step{{Action: "slow", Timeout: "50ms"}},
	}

	start := time.Now()
	result := e.Run(context.Background(), tc)
	if result.Passed {
		t.Error("Test should fail due to timeout")
	}
	if !errors.Is(result.Error, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", result.Error)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("step timeout not applied")
	}
}

// TestEngineExpectedError tests that an expected error is an output.
func TestEngineExpectedError(t *testing.T) {
	e := engine.New()
	engine.RegisterCheckers(e)
	e.RegisterHandler("delete_equipment", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		if step.Params["name"] == "ghost" {
			return nil, errors.New("equipment host/ghost: not found")
		}
		return nil, nil
	})

	tc := &loader.TestCase{
		ID: "TC-ERR",
		Steps: []loader.Step{
			{Action: "delete_equipment", Params: map[string]any{"name": "ghost"}, Expect: map[string]any{
				"error":                  true,
				"error_message_contains": "not found",
			}},
			{Action: "delete_equipment", Params: map[string]any{"name": "lamp"}, Expect: map[string]any{"error": false}},
		},
	}
	if result := e.Run(context.Background(), tc); !result.Passed {
		t.Errorf("expected pass, got %v", result.Error)
	}

	tc.Steps = tc.Steps[:1]
	tc.Steps[0].Expect = nil
	result := e.Run(context.Background(), tc)
	if result.Passed {
		t.Error("an unexpected error should fail the step")
	}
	if !strings.HasPrefix(result.Error.Error(), "step 1 (delete_equipment): ") {
		t.Errorf("unexpected error %v", result.Error)
	}
}

// TestEngineResults tests suite counters.
func TestEngineResults(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("pass", okHandler(nil))
	e.RegisterHandler("fail", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return nil, errors.New("failed")
	})

	var completed []string
	e.Config().OnTestComplete = func(r *engine.TestResult) { completed = append(completed, r.TestCase.ID) }

	cases := []*loader.TestCase{
		{ID: "TC-001", Steps: []loader.Step{{Action: "pass"}}},
		{ID: "TC-002", Steps: []loader.Step{{Action: "fail"}}},
		{ID: "TC-003", Skip: true, Steps: []loader.Step{{Action: "pass"}}},
	}

	suite := e.RunSuite(context.Background(), "daemon", cases)
	if suite.SuiteName != "daemon" {
		t.Errorf("suite name = %s", suite.SuiteName)
	}
	if suite.PassCount != 1 || suite.FailCount != 1 || suite.SkipCount != 1 {
		t.Errorf("counts = %d/%d/%d", suite.PassCount, suite.FailCount, suite.SkipCount)
	}
	if strings.Join(completed, ",") != "TC-001,TC-002,TC-003" {
		t.Errorf("completion callbacks %v", completed)
	}
}

// TestEngineStopOnFirstFailure tests the stop-on-failure option.
func TestEngineStopOnFirstFailure(t *testing.T) {
	config := engine.DefaultConfig()
	config.StopOnFirstFailure = true
	e := engine.NewWithConfig(config)
	e.RegisterHandler("pass", okHandler(nil))
	e.RegisterHandler("fail", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return nil, errors.New("failed")
	})

	cases := []*loader.TestCase{
		{ID: "TC-001", Steps: []loader.Step{{Action: "fail"}}},
		{ID: "TC-002", Steps: []loader.Step{{Action: "pass"}}},
	}
	suite := e.RunSuite(context.Background(), "", cases)
	if len(suite.Results) != 1 {
		t.Errorf("Expected 1 result (stopped on failure), got %d", len(suite.Results))
	}
}

// TestEngineSetupTeardown tests the per-scenario hooks.
func TestEngineSetupTeardown(t *testing.T) {
	var calls []string
	config := engine.DefaultConfig()
	config.Setup = func(ctx context.Context, tc *loader.TestCase, state *engine.ExecutionState) error {
		calls = append(calls, "setup")
		if tc.ID == "TC-BAD" {
			return errors.New("broker unreachable")
		}
		state.Set("broker", "host")
		return nil
	}
	config.Teardown = func(ctx context.Context, tc *loader.TestCase, state *engine.ExecutionState) {
		calls = append(calls, "teardown")
	}
	var steps int
	config.OnStepComplete = func(tc *loader.TestCase, r *engine.StepResult) { steps++ }

	e := engine.NewWithConfig(config)
	e.RegisterHandler("fail", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		calls = append(calls, "step "+step.Params["broker"].(string))
		return nil, errors.New("failed")
	})

	tc := &loader.TestCase{ID: "TC-OK", Steps: []loader.Step{{Action: "fail", Params: map[string]any{"broker": "{{ broker }}"}}}}
	e.Run(context.Background(), tc)
	if strings.Join(calls, ",") != "setup,step host,teardown" {
		t.Errorf("unexpected calls %v", calls)
	}
	if steps != 1 {
		t.Errorf("OnStepComplete called %d times", steps)
	}

	calls = nil
	result := e.Run(context.Background(), &loader.TestCase{ID: "TC-BAD", Steps: tc.Steps})
	if result.Passed || !strings.Contains(result.Error.Error(), "setup failed: broker unreachable") {
		t.Errorf("unexpected result %v", result.Error)
	}
	if strings.Join(calls, ",") != "setup" {
		t.Errorf("unexpected calls %v", calls)
	}
}

// TestEngineUnknownAction tests handling of unknown actions.
func TestEngineUnknownAction(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("b", okHandler(nil))
	e.RegisterHandler("a", okHandler(nil))
	if got := strings.Join(e.Actions(), ","); got != "a,b" {
		t.Errorf("Actions() = %s", got)
	}

	result := e.Run(context.Background(), &loader.TestCase{
		ID:    "TC-UNKNOWN",
		Steps: []loader.Step{{Action: "nonexistent_action"}},
	})
	if result.Passed {
		t.Error("Test should fail for unknown action")
	}
	if !strings.Contains(result.Error.Error(), "unknown action: nonexistent_action") {
		t.Errorf("unexpected error %v", result.Error)
	}
}

func TestExecuteStepKeepsState(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("add_equipment", okHandler(map[string]any{"id": "12"}))
	e.RegisterHandler("echo", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
		return map[string]any{"value": step.Params["id"]}, nil
	})

	state := engine.NewExecutionState(context.Background())
	first := e.ExecuteStep(context.Background(), &loader.Step{Action: "add_equipment"}, 0, state)
	if !first.Passed {
		t.Fatalf("first step failed: %v", first.Error)
	}
	second := e.ExecuteStep(context.Background(), &loader.Step{
		Action: "echo",
		Params: map[string]any{"id": "{{ id }}"},
		Expect: map[string]any{"value": "12"},
	}, 1, state)
	if !second.Passed {
		t.Fatalf("second step failed: %v", second.Error)
	}
	if r := e.ExecuteStep(context.Background(), &loader.Step{Action: "nope"}, 2, state); r.Passed {
		t.Error("unknown action should fail")
	}
}
