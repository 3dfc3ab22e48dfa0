package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/domotruc/jmqtt-test/internal/testharness/engine"
	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
	"github.com/domotruc/jmqtt-test/pkg/channel"
)

func (r *Runner) registerUtilityHandlers() {
	r.engine.RegisterHandler("wait", r.handleWait)
	r.engine.RegisterHandler("api_request", r.handleAPIRequest)
	r.engine.RegisterHandler("ping", r.handlePing)
	r.engine.RegisterHandler("version", r.handleVersion)
	r.engine.RegisterHandler("init_from_plugin", r.handleInitFromPlugin)
	r.engine.RegisterHandler("remove_all_eqpts", r.handleRemoveAllEqpts)
	r.engine.RegisterHandler("log_list", r.handleLogList)
}

func (r *Runner) handleWait(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := paramDuration(step.Params, ParamDuration, time.Second)
	if err != nil {
		return nil, err
	}
	return nil, contextSleep(ctx, d)
}

// handleAPIRequest sends a raw API request through the JSON-RPC API or
// the MQTT API of a broker. Over MQTT a side topic also collects the
// message the request makes the plugin publish.
func (r *Runner) handleAPIRequest(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	method, err := requireString(step.Params, ParamMethod)
	if err != nil {
		return nil, err
	}
	params := paramMap(step.Params, ParamParams)
	ch := paramString(step.Params, ParamChannel, string(channel.JSONRPC))
	r.config.Metrics.ObserveRequest(ch, method)

	out := map[string]any{KeyChannel: ch}
	var raw json.RawMessage
	switch channel.ID(ch) {
	case channel.JSONRPC:
		raw, err = r.rpc.Call(ctx, method, params)
	case channel.MQTT:
		raw, err = r.mqttRequest(ctx, step.Params, method, params, out)
	default:
		return nil, fmt.Errorf("api_request: unknown channel %q", ch)
	}
	if err != nil {
		return out, err
	}

	out[KeyPayload] = string(raw)
	var v any
	if len(raw) > 0 && json.Unmarshal(raw, &v) == nil {
		out[KeyValue] = v
	}
	return out, nil
}

func (r *Runner) mqttRequest(ctx context.Context, stepParams map[string]any, method string, params map[string]any, out map[string]any) (json.RawMessage, error) {
	broker, err := r.brokerParam(stepParams)
	if err != nil {
		return nil, err
	}
	client, err := r.pool.Get(broker)
	if err != nil {
		return nil, err
	}
	side := paramString(stepParams, ParamSideTopic, "")
	if side == "" {
		resp, err := client.Request(ctx, method, params)
		if err != nil {
			return nil, err
		}
		return resp.Result, nil
	}
	resp, payload, err := client.RequestWithSideEffect(ctx, method, params, side)
	if err != nil {
		return nil, err
	}
	out[KeySide] = string(payload)
	return resp.Result, nil
}

func (r *Runner) handlePing(ctx context.Context, _ *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	start := time.Now()
	if err := r.api.Ping(ctx); err != nil {
		return nil, err
	}
	return map[string]any{KeyValue: "pong", "duration": time.Since(start).String()}, nil
}

func (r *Runner) handleVersion(ctx context.Context, _ *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	v, err := r.api.Version(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{KeyValue: v.String(), "short": v.Short()}, nil
}

// handleInitFromPlugin replaces the reference with what the plugin holds,
// to start a scenario from an existing installation.
func (r *Runner) handleInitFromPlugin(ctx context.Context, _ *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	if err := r.store.InitFromPlugin(ctx, r.api); err != nil {
		return nil, err
	}
	names := make([]string, 0)
	count := 0
	for _, b := range r.store.Brokers() {
		names = append(names, b.Name)
		count += len(b.Eqpts)
	}
	return map[string]any{KeyBroker: names, KeyCount: count}, nil
}

// handleRemoveAllEqpts deletes every equipment that is not a broker.
func (r *Runner) handleRemoveAllEqpts(ctx context.Context, _ *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	r.config.Metrics.ObserveRequest(string(channel.JSONRPC), "jMQTT::removeAllEqpts")
	if err := r.api.RemoveAllEqpts(ctx); err != nil {
		return nil, err
	}
	removed := 0
	for _, b := range r.store.Brokers() {
		for _, e := range append(b.Eqpts[1:0:0], b.Eqpts[1:]...) {
			if err := r.store.DeleteEquipment(b.Name, e.Name); err != nil {
				return nil, err
			}
			removed++
		}
	}
	return map[string]any{KeyCount: removed}, nil
}

func (r *Runner) handleLogList(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	files, err := r.api.LogList(ctx, paramString(step.Params, ParamFilter, ""))
	if err != nil {
		return nil, err
	}
	return map[string]any{KeyValue: files, KeyCount: len(files)}, nil
}
