package jmqtt_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
	"github.com/domotruc/jmqtt-test/internal/testharness/mock"
	"github.com/domotruc/jmqtt-test/internal/testharness/runner"
)

const scenarioDir = "testdata/scenarios"

// TestScenarios runs the shipped scenarios against the fake plugin, so a
// scenario broken by a harness change fails here before reaching a real
// Jeedom.
func TestScenarios(t *testing.T) {
	stack, err := mock.StartStack(mock.JeedomConfig{})
	require.NoError(t, err)
	defer stack.Close()

	var out bytes.Buffer
	r, err := runner.New(&runner.Config{
		Env:         stack.Env(),
		TestDir:     scenarioDir,
		Driver:      stack.Driver(),
		Page:        stack.Page(nil),
		Factory:     stack.Factory(),
		Output:      &out,
		Verbose:     true,
		StepTimeout: 10 * time.Second,
		Poll:        runner.PollConfig{Attempts: 10, Interval: 50 * time.Millisecond},
	})
	require.NoError(t, err)
	defer r.Close()

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.FailCount, out.String())
	assert.Positive(t, result.PassCount)
}

func TestScenariosLoad(t *testing.T) {
	cases, err := loader.LoadDirectoryRecursive(scenarioDir)
	require.NoError(t, err)
	require.NotEmpty(t, cases)

	seen := make(map[string]bool)
	for _, tc := range cases {
		assert.False(t, seen[tc.ID], "duplicate scenario id %s", tc.ID)
		seen[tc.ID] = true
		assert.NotEmpty(t, tc.Tags, "%s has no tag", tc.ID)
		assert.NotEmpty(t, tc.Steps, "%s has no step", tc.ID)
	}
}
