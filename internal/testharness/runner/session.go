package runner

import (
	"context"

	"github.com/domotruc/jmqtt-test/internal/testharness/engine"
	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
)

// Session runs steps one at a time in a scenario that stays open until
// Close. The console drives the plugin through it.
type Session struct {
	r     *Runner
	tc    *loader.TestCase
	state *engine.ExecutionState
	steps int
}

// OpenSession starts a scenario on brokers, the first being the default
// broker of the steps.
func (r *Runner) OpenSession(ctx context.Context, brokers []string) (*Session, error) {
	tc := &loader.TestCase{ID: "session", Name: "interactive session", Brokers: brokers}
	state := engine.NewExecutionState(ctx)
	if err := r.setupTest(ctx, tc, state); err != nil {
		return nil, err
	}
	return &Session{r: r, tc: tc, state: state}, nil
}

// Step runs one action. Params may reference the outputs of earlier
// steps with {{ name }}.
func (s *Session) Step(ctx context.Context, step loader.Step) *engine.StepResult {
	sr := s.r.engine.ExecuteStep(ctx, &step, s.steps, s.state)
	s.steps++
	s.r.stepComplete(s.tc, sr)
	return sr
}

// Outputs returns the outputs accumulated by the steps so far.
func (s *Session) Outputs() map[string]any { return s.state.Outputs }

// Close ends the scenario: captures are closed and the brokers the
// session added are deleted from the plugin.
func (s *Session) Close(ctx context.Context) {
	s.r.teardownTest(ctx, s.tc, s.state)
}
