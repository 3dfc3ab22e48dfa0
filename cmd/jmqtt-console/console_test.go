package main

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domotruc/jmqtt-test/internal/testharness/mock"
	"github.com/domotruc/jmqtt-test/internal/testharness/runner"
)

func newTestConsole(t *testing.T) (*Console, *strings.Builder) {
	t.Helper()
	stack, err := mock.StartStack(mock.JeedomConfig{})
	require.NoError(t, err)
	t.Cleanup(stack.Close)

	r, err := runner.New(&runner.Config{
		Env:     stack.Env(),
		Driver:  stack.Driver(),
		Factory: stack.Factory(),
		Output:  io.Discard,
		Poll:    runner.PollConfig{Attempts: 5, Interval: 20 * time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.NoError(t, r.Prepare(context.Background()))

	s, err := r.OpenSession(context.Background(), []string{mock.StackBroker})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })

	var out strings.Builder
	return &Console{r: r, session: s, out: &out}, &out
}

func TestConsoleRunsSteps(t *testing.T) {
	c, out := newTestConsole(t)
	ctx := context.Background()

	for _, line := range []string{
		"add_broker",
		"add_equipment eqpt=lamp topic=lamp/#",
		"publish topic=lamp/state payload=on",
		"assert channel=jsonrpc",
	} {
		out.Reset()
		require.True(t, c.exec(ctx, line))
		require.Containsf(t, out.String(), "ok (", "%s: %s", line, out.String())
	}

	out.Reset()
	c.exec(ctx, "ref host")
	assert.Contains(t, out.String(), "lamp")
	assert.Contains(t, out.String(), "lamp/state")

	out.Reset()
	c.exec(ctx, "ref")
	assert.Contains(t, out.String(), "eqpts=1")
}

func TestConsoleReportsFailures(t *testing.T) {
	c, out := newTestConsole(t)
	ctx := context.Background()

	c.exec(ctx, "no_such_action")
	assert.Contains(t, out.String(), "FAILED")

	out.Reset()
	c.exec(ctx, "publish topic")
	assert.Contains(t, out.String(), "is not key=value")

	out.Reset()
	c.exec(ctx, "ping expect.value=pang")
	assert.Contains(t, out.String(), "expectation failed")
}

func TestConsoleQuit(t *testing.T) {
	c, _ := newTestConsole(t)
	assert.True(t, c.exec(context.Background(), "# comment"))
	assert.True(t, c.exec(context.Background(), "help"))
	assert.False(t, c.exec(context.Background(), "quit"))
}
