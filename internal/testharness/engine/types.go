// Package engine runs jMQTT scenarios step by step.
package engine

import (
	"context"
	"time"

	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
	"github.com/domotruc/jmqtt-test/pkg/version"
)

// TestResult represents the outcome of a single scenario.
type TestResult struct {
	TestCase *loader.TestCase

	// Passed indicates if all steps passed.
	Passed bool

	// Error is the error that caused failure, if any.
	Error error

	StepResults []*StepResult

	Duration  time.Duration
	StartTime time.Time
	EndTime   time.Time

	// Skipped indicates the scenario did not run (skip flag, Jeedom version
	// below min_version).
	Skipped    bool
	SkipReason string
}

// StepResult represents the outcome of a single step.
type StepResult struct {
	Step *loader.Step

	// StepIndex is the index of this step (0-based).
	StepIndex int

	Passed bool
	Error  error

	// ExpectResults maps expectation keys to their results.
	ExpectResults map[string]*ExpectResult

	Duration time.Duration

	// Output contains the outputs returned by the action handler.
	Output map[string]any
}

// ExpectResult represents the result of checking an expectation.
type ExpectResult struct {
	Key      string
	Expected any
	Actual   any
	Passed   bool
	Message  string
}

// SuiteResult represents the outcome of running several scenarios.
type SuiteResult struct {
	SuiteName string
	Results   []*TestResult

	PassCount int
	FailCount int
	SkipCount int

	Duration time.Duration
}

// ActionHandler processes a step action. It returns outputs made available
// to the expectations and to later steps, and an error if the action failed.
type ActionHandler func(ctx context.Context, step *loader.Step, state *ExecutionState) (map[string]any, error)

// ExpectChecker checks an expectation against the execution state.
type ExpectChecker func(key string, expected any, state *ExecutionState) *ExpectResult

// ExecutionState holds state during the execution of one scenario.
type ExecutionState struct {
	// Outputs accumulated from previous steps.
	Outputs map[string]any

	Context context.Context

	// Custom state handlers share between steps (open captures, last
	// publication time).
	Custom map[string]any
}

// NewExecutionState creates a new execution state.
func NewExecutionState(ctx context.Context) *ExecutionState {
	return &ExecutionState{
		Outputs: make(map[string]any),
		Custom:  make(map[string]any),
		Context: ctx,
	}
}

// Get retrieves a value from outputs, supporting template syntax.
func (s *ExecutionState) Get(key string) (any, bool) {
	if name, ok := pureVariableName(key); ok {
		v, ok := s.Outputs[name]
		return v, ok
	}
	v, ok := s.Outputs[key]
	return v, ok
}

// Set stores a value in outputs.
func (s *ExecutionState) Set(key string, value any) {
	s.Outputs[key] = value
}

// EngineConfig configures the engine.
type EngineConfig struct {
	// DefaultTimeout is the default timeout of a scenario.
	DefaultTimeout time.Duration

	// StepTimeout is the default timeout of a step.
	StepTimeout time.Duration

	// SuiteTimeout bounds RunSuite. Computed from the scenario timeouts
	// when zero.
	SuiteTimeout time.Duration

	// StopOnFirstFailure stops RunSuite after the first failed scenario.
	StopOnFirstFailure bool

	// JeedomVersion skips scenarios whose min_version is newer. No
	// scenario is skipped on version when zero.
	JeedomVersion version.Jeedom

	// Setup runs before the steps of every scenario, Teardown after them
	// even when a step failed.
	Setup    func(ctx context.Context, tc *loader.TestCase, state *ExecutionState) error
	Teardown func(ctx context.Context, tc *loader.TestCase, state *ExecutionState)

	// OnStepComplete and OnTestComplete are progress callbacks.
	OnStepComplete func(tc *loader.TestCase, result *StepResult)
	OnTestComplete func(result *TestResult)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		DefaultTimeout: 2 * time.Minute,
		StepTimeout:    30 * time.Second,
	}
}
