//go:build integration

package jmqtt_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/domotruc/jmqtt-test/internal/testharness/runner"
	"github.com/domotruc/jmqtt-test/pkg/config"
	"github.com/domotruc/jmqtt-test/pkg/dom"
)

// TestLiveJeedom runs the API scenarios against the host described by
// $JMQTT_ENV, through its real brokers. Scenarios needing the plugin page
// are left to jmqtt-test with a page driver.
func TestLiveJeedom(t *testing.T) {
	path := os.Getenv("JMQTT_ENV")
	if path == "" {
		t.Skip("JMQTT_ENV not set")
	}
	env, err := config.Load(path)
	require.NoError(t, err)

	cfg := &runner.Config{
		Env:     env,
		TestDir: scenarioDir,
		Tags:    []string{"live"},
		Output:  os.Stdout,
		Verbose: testing.Verbose(),
	}
	if u := os.Getenv("JMQTT_PAGE_URL"); u != "" {
		cfg.Page = dom.NewHTTPPage(nil, u)
	}
	r, err := runner.New(cfg)
	require.NoError(t, err)
	defer r.Close()

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.FailCount)
}
