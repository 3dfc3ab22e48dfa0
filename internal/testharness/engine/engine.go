package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
	"github.com/domotruc/jmqtt-test/pkg/version"
)

// Engine executes scenarios.
type Engine struct {
	config   *EngineConfig
	handlers map[string]ActionHandler
	checkers map[string]ExpectChecker
	mu       sync.RWMutex
}

// New creates an engine with the default configuration.
func New() *Engine {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an engine with the given configuration.
func NewWithConfig(config *EngineConfig) *Engine {
	if config == nil {
		config = DefaultConfig()
	}

	e := &Engine{
		config:   config,
		handlers: make(map[string]ActionHandler),
		checkers: make(map[string]ExpectChecker),
	}
	e.RegisterChecker(CheckerNameDefault, defaultChecker)
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() *EngineConfig { return e.config }

// RegisterHandler registers an action handler.
func (e *Engine) RegisterHandler(action string, handler ActionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[action] = handler
}

// RegisterChecker registers an expectation checker.
func (e *Engine) RegisterChecker(key string, checker ExpectChecker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkers[key] = checker
}

// Actions returns the registered action names, sorted.
func (e *Engine) Actions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Run executes a single scenario.
func (e *Engine) Run(ctx context.Context, tc *loader.TestCase) *TestResult {
	result := &TestResult{
		TestCase:  tc,
		StartTime: time.Now(),
	}
	finish := func() *TestResult {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result
	}

	if reason := e.skipReason(tc); reason != "" {
		result.Skipped = true
		result.SkipReason = reason
		return finish()
	}

	timeout := e.config.DefaultTimeout
	if tc.Timeout != "" {
		if d, err := time.ParseDuration(tc.Timeout); err == nil {
			timeout = d
		}
	}
	testCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	state := NewExecutionState(testCtx)

	if e.config.Setup != nil {
		if err := e.config.Setup(testCtx, tc, state); err != nil {
			result.Error = fmt.Errorf("setup failed: %w", err)
			return finish()
		}
	}
	if e.config.Teardown != nil {
		defer e.config.Teardown(ctx, tc, state)
	}

	for i := range tc.Steps {
		stepResult := e.executeStep(testCtx, &tc.Steps[i], i, state)
		result.StepResults = append(result.StepResults, stepResult)
		if e.config.OnStepComplete != nil {
			e.config.OnStepComplete(tc, stepResult)
		}
		if !stepResult.Passed {
			result.Error = fmt.Errorf("step %d (%s): %w", i+1, tc.Steps[i].Action, stepResult.Error)
			return finish()
		}
	}

	result.Passed = true
	return finish()
}

func (e *Engine) skipReason(tc *loader.TestCase) string {
	if tc.Skip {
		if tc.SkipReason != "" {
			return tc.SkipReason
		}
		return "skipped by test definition"
	}
	if tc.MinVersion != "" && !e.config.JeedomVersion.IsZero() {
		required, err := version.Parse(tc.MinVersion)
		if err == nil && !e.config.JeedomVersion.AtLeast(required.Version) {
			return fmt.Sprintf("requires Jeedom %s, running %s", tc.MinVersion, e.config.JeedomVersion)
		}
	}
	return ""
}

// executeStep executes a single step.
// ExecuteStep runs one step outside a scenario, against a state the
// caller keeps between calls.
func (e *Engine) ExecuteStep(ctx context.Context, step *loader.Step, index int, state *ExecutionState) *StepResult {
	return e.executeStep(ctx, step, index, state)
}

func (e *Engine) executeStep(ctx context.Context, step *loader.Step, index int, state *ExecutionState) *StepResult {
	result := &StepResult{
		Step:          step,
		StepIndex:     index,
		ExpectResults: make(map[string]*ExpectResult),
		Output:        make(map[string]any),
	}

	startTime := time.Now()
	defer func() { result.Duration = time.Since(startTime) }()

	timeout := e.config.StepTimeout
	if step.Timeout != "" {
		if d, err := time.ParseDuration(step.Timeout); err == nil {
			timeout = d
		}
	}

	// A wait step is given at least its own duration plus a margin.
	if dur := stepDurationFromParams(step.Params); dur > 0 {
		if needed := dur + 10*time.Second; needed > timeout {
			timeout = needed
		}
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.mu.RLock()
	handler, exists := e.handlers[step.Action]
	e.mu.RUnlock()

	if !exists {
		result.Error = fmt.Errorf("unknown action: %s", step.Action)
		return result
	}

	resolved := *step
	resolved.Params = InterpolateParams(step.Params, state)

	outputs, err := handler(stepCtx, &resolved, state)
	if err != nil {
		// An error the scenario expects is an output, not a failure.
		if _, expected := step.Expect[KeyError]; !expected && !expectsErrorText(step.Expect) {
			result.Error = err
			return result
		}
		if outputs == nil {
			outputs = make(map[string]any)
		}
		outputs[KeyError] = true
		outputs[KeyErrorMessage] = err.Error()
	} else if _, expected := step.Expect[KeyError]; expected {
		if outputs == nil {
			outputs = make(map[string]any)
		}
		if _, set := outputs[KeyError]; !set {
			outputs[KeyError] = false
		}
	}

	for k, v := range outputs {
		state.Set(k, v)
		result.Output[k] = v
	}

	outputCopy := make(map[string]any, len(result.Output))
	for k, v := range result.Output {
		outputCopy[k] = v
	}
	state.Set(InternalStepOutput, outputCopy)

	result.Passed = true
	expect := InterpolateParams(step.Expect, state)
	for _, key := range sortedKeys(expect) {
		expectResult := e.checkExpectation(key, expect[key], state)
		result.ExpectResults[key] = expectResult
		if !expectResult.Passed && result.Passed {
			result.Passed = false
			result.Error = fmt.Errorf("expectation failed: %s - %s", key, expectResult.Message)
		}
	}

	return result
}

func expectsErrorText(expect map[string]any) bool {
	_, ok := expect[CheckerNameErrorMessageContains]
	return ok
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (e *Engine) checkExpectation(key string, expected any, state *ExecutionState) *ExpectResult {
	e.mu.RLock()
	checker, exists := e.checkers[key]
	if !exists {
		checker = e.checkers[CheckerNameDefault]
	}
	e.mu.RUnlock()

	return checker(key, expected, state)
}

// defaultChecker compares the output named key with expected.
func defaultChecker(key string, expected any, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(key)
	if !exists {
		return &ExpectResult{
			Key:      key,
			Expected: expected,
			Passed:   false,
			Message:  fmt.Sprintf("key %q not found in outputs", key),
		}
	}

	// "present" means the key exists with any value.
	if expStr, ok := expected.(string); ok && expStr == "present" {
		return &ExpectResult{
			Key:      key,
			Expected: expected,
			Actual:   actual,
			Passed:   true,
			Message:  fmt.Sprintf("%s = %v", key, actual),
		}
	}

	// Lists of maps are matched field by field, extra actual keys allowed.
	if passed, msg := subsetMatchListOfMaps(expected, actual); msg != "" {
		return &ExpectResult{
			Key: key, Expected: expected, Actual: actual,
			Passed: passed, Message: msg,
		}
	}

	passed := valueToString(expected) == valueToString(actual)
	result := &ExpectResult{
		Key:      key,
		Expected: expected,
		Actual:   actual,
		Passed:   passed,
	}
	if passed {
		result.Message = fmt.Sprintf("%s = %v", key, valueToString(expected))
	} else {
		result.Message = fmt.Sprintf("expected %s, got %s", valueToString(expected), valueToString(actual))
	}
	return result
}

// subsetMatchListOfMaps matches two lists of maps. It returns an empty
// message when the pattern does not apply.
func subsetMatchListOfMaps(expected, actual any) (bool, string) {
	expList, expOK := expected.([]any)
	if !expOK || len(expList) == 0 {
		return false, ""
	}
	hasMap := false
	for _, item := range expList {
		if _, ok := item.(map[string]any); ok {
			hasMap = true
			break
		}
	}
	if !hasMap {
		return false, ""
	}

	var actList []any
	switch a := actual.(type) {
	case []any:
		actList = a
	case []map[string]any:
		for _, m := range a {
			actList = append(actList, m)
		}
	default:
		return false, ""
	}

	if len(actList) != len(expList) {
		return false, fmt.Sprintf("expected %d items, got %d", len(expList), len(actList))
	}

	for i, expItem := range expList {
		expMap, ok := expItem.(map[string]any)
		if !ok {
			if valueToString(expItem) != valueToString(actList[i]) {
				return false, fmt.Sprintf("item[%d]: expected %v, got %v", i, expItem, actList[i])
			}
			continue
		}
		actMap, ok := actList[i].(map[string]any)
		if !ok {
			return false, fmt.Sprintf("item[%d]: expected map, got %T", i, actList[i])
		}
		for _, k := range sortedKeys(expMap) {
			av, has := actMap[k]
			if !has {
				return false, fmt.Sprintf("item[%d]: missing key %q", i, k)
			}
			if valueToString(expMap[k]) != valueToString(av) {
				return false, fmt.Sprintf("item[%d].%s: expected %v, got %v", i, k, expMap[k], av)
			}
		}
	}
	return true, "all expected fields match"
}

// RunSuite executes the scenarios in order.
func (e *Engine) RunSuite(ctx context.Context, name string, cases []*loader.TestCase) *SuiteResult {
	result := &SuiteResult{SuiteName: name}
	if result.SuiteName == "" {
		result.SuiteName = "jMQTT"
	}

	startTime := time.Now()
	defer func() { result.Duration = time.Since(startTime) }()

	suiteTimeout := e.config.SuiteTimeout
	if suiteTimeout == 0 {
		var total time.Duration
		for _, tc := range cases {
			if tc.Timeout != "" {
				if d, err := time.ParseDuration(tc.Timeout); err == nil {
					total += d
					continue
				}
			}
			total += e.config.DefaultTimeout
		}
		suiteTimeout = total + 2*time.Minute
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > suiteTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, suiteTimeout)
		defer cancel()
	}

	for _, tc := range cases {
		if ctx.Err() != nil {
			return result
		}

		testResult := e.Run(ctx, tc)
		result.Results = append(result.Results, testResult)

		switch {
		case testResult.Skipped:
			result.SkipCount++
		case testResult.Passed:
			result.PassCount++
		default:
			result.FailCount++
		}

		if e.config.OnTestComplete != nil {
			e.config.OnTestComplete(testResult)
		}

		if !testResult.Passed && !testResult.Skipped && e.config.StopOnFirstFailure {
			break
		}
	}

	return result
}

// stepDurationFromParams extracts an explicit wait duration ("duration"
// as a Go duration string, or "duration_ms").
func stepDurationFromParams(params map[string]any) time.Duration {
	var d time.Duration
	if s, ok := params["duration"].(string); ok {
		d, _ = time.ParseDuration(s)
	}
	if ms, ok := params["duration_ms"]; ok {
		if f, ok := ToFloat64(ms); ok {
			if md := time.Duration(f * float64(time.Millisecond)); md > d {
				d = md
			}
		}
	}
	return d
}
