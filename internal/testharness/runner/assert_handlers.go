package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/domotruc/jmqtt-test/internal/testharness/assertions"
	"github.com/domotruc/jmqtt-test/internal/testharness/engine"
	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
	"github.com/domotruc/jmqtt-test/pkg/channel"
	"github.com/domotruc/jmqtt-test/pkg/model"
)

// channelAll asserts through every available channel.
const channelAll = "all"

func (r *Runner) registerAssertHandlers() {
	r.engine.RegisterHandler("assert", r.handleAssert)
	r.engine.RegisterHandler("assert_cmd_panel", r.handleAssertCmdPanel)
	r.engine.RegisterHandler("assert_last_communication", r.handleAssertLastCommunication)
	r.engine.RegisterHandler("assert_daemon_state", r.handleAssertDaemonState)
}

// pollParams returns the poll settings of a step, the runner defaults
// when absent.
func (r *Runner) pollParams(params map[string]any) (PollConfig, error) {
	cfg := r.config.Poll
	var err error
	if cfg.Attempts, err = paramInt(params, ParamAttempts, cfg.Attempts); err != nil {
		return cfg, err
	}
	if cfg.Interval, err = paramDuration(params, ParamInterval, cfg.Interval); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// assertChannels lists the channels of an assert step.
func (r *Runner) assertChannels(params map[string]any) ([]channel.ID, error) {
	switch ch := paramString(params, ParamChannel, string(channel.JSONRPC)); ch {
	case channelAll:
		chs := []channel.ID{channel.JSONRPC, channel.MQTT}
		if r.config.Page != nil {
			chs = append(chs, channel.DOM)
		}
		return chs, nil
	case string(channel.JSONRPC), string(channel.MQTT), string(channel.DOM):
		return []channel.ID{channel.ID(ch)}, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", ch)
	}
}

// handleAssert compares the reference with the plugin as read through one
// or all channels, retrying while the plugin catches up. The broker
// parameter restricts the check to one broker; without it every broker is
// checked.
func (r *Runner) handleAssert(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	chs, err := r.assertChannels(step.Params)
	if err != nil {
		return nil, err
	}
	cfg, err := r.pollParams(step.Params)
	if err != nil {
		return nil, err
	}
	broker := paramString(step.Params, ParamBroker, "")
	visual := paramBool(step.Params, ParamVisual, false)

	total := 0
	for _, ch := range chs {
		n, err := poll(ctx, "assert "+string(ch), cfg, func() error {
			return r.reconciler.Assert(ctx, ch, broker, visual)
		})
		total += n
		if err != nil {
			return map[string]any{KeyChannel: string(ch), KeyAttempts: total}, err
		}
	}
	return map[string]any{KeyAttempts: total}, nil
}

// handleAssertCmdPanel compares the command table of the open equipment
// page with the reference.
func (r *Runner) handleAssertCmdPanel(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	broker, eqpt, err := r.eqptParams(step.Params)
	if err != nil {
		return nil, err
	}
	cfg, err := r.pollParams(step.Params)
	if err != nil {
		return nil, err
	}
	n, err := poll(ctx, "assert command panel", cfg, func() error {
		return r.reconciler.AssertCmdPanel(ctx, broker, eqpt)
	})
	return map[string]any{KeyAttempts: n}, err
}

// handleAssertLastCommunication checks the last communication date of an
// equipment against "at", or against the time of the last publication the
// scenario made.
func (r *Runner) handleAssertLastCommunication(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	broker, eqpt, err := r.eqptParams(step.Params)
	if err != nil {
		return nil, err
	}
	ref, err := r.referenceTime(step.Params, state)
	if err != nil {
		return nil, err
	}
	cfg, err := r.pollParams(step.Params)
	if err != nil {
		return nil, err
	}
	n, err := poll(ctx, "assert last communication", cfg, func() error {
		return r.reconciler.AssertLastCommunication(ctx, broker, eqpt, ref)
	})
	return map[string]any{KeyAttempts: n, KeyPublishedAt: ref.Format(time.RFC3339)}, err
}

func (r *Runner) referenceTime(params map[string]any, state *engine.ExecutionState) (time.Time, error) {
	if at := paramString(params, ParamAt, ""); at != "" {
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			return t, nil
		}
		t, err := time.ParseInLocation(model.LastCommunicationLayout, at, r.config.Env.Location())
		if err != nil {
			return time.Time{}, fmt.Errorf("parameter %q: %w", ParamAt, err)
		}
		return t, nil
	}
	t, ok := state.Custom[customLastPublish].(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("no publication yet and no %q parameter", ParamAt)
	}
	return t, nil
}

// handleAssertDaemonState checks the daemon state of a broker: the given
// state, or the reference one. Drivers able to read it directly are asked;
// otherwise the broker card of the plugin page is compared.
func (r *Runner) handleAssertDaemonState(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	broker, err := r.brokerParam(step.Params)
	if err != nil {
		return nil, err
	}
	ref, err := r.store.BrokerState(broker)
	if err != nil {
		return nil, err
	}
	want := model.DaemonState(paramString(step.Params, ParamState, string(ref)))
	cfg, err := r.pollParams(step.Params)
	if err != nil {
		return nil, err
	}

	reader, ok := r.driver.(DaemonStateReader)
	if !ok {
		if r.config.Page == nil {
			return nil, fmt.Errorf("cannot read the daemon state: no page and driver %T cannot read it", r.driver)
		}
		if want != ref {
			return nil, fmt.Errorf("expected state %s differs from the reference %s", want, ref)
		}
		n, err := poll(ctx, "assert daemon state", cfg, func() error {
			return r.reconciler.Assert(ctx, channel.DOM, broker, false)
		})
		return map[string]any{KeyState: string(want), KeyAttempts: n}, err
	}

	var got model.DaemonState
	n, err := poll(ctx, "assert daemon state", cfg, func() error {
		var err error
		if got, err = reader.DaemonState(ctx, r.label(broker)); err != nil {
			return err
		}
		res := assertions.DaemonState(got, want)
		if res.Passed {
			return nil
		}
		return &stateMismatch{res.Err()}
	})
	return map[string]any{KeyState: string(got), KeyAttempts: n}, err
}

// stateMismatch is retried by poll like a reconcile mismatch.
type stateMismatch struct{ err error }

func (e *stateMismatch) Error() string { return e.err.Error() }
func (e *stateMismatch) Unwrap() error { return e.err }
