package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/domotruc/jmqtt-test/internal/testharness/engine"
	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
	"github.com/domotruc/jmqtt-test/pkg/channel"
	"github.com/domotruc/jmqtt-test/pkg/model"
	"github.com/domotruc/jmqtt-test/pkg/refstore"
	"github.com/domotruc/jmqtt-test/pkg/topic"
)

// CommandReparenter is implemented by drivers able to move a JSON command
// under another parent command.
type CommandReparenter interface {
	ReparentCommand(ctx context.Context, broker, eqpt, name, parent string) error
}

// execOptions are the request placeholders an action command replaces
// with the options it is executed with.
var execOptions = []string{"slider", "message", "title", "color", "select"}

func (r *Runner) registerCommandHandlers() {
	r.engine.RegisterHandler("add_action_cmd", r.handleAddActionCmd)
	r.engine.RegisterHandler("add_json_cmd", r.handleAddJSONCmd)
	r.engine.RegisterHandler("reparent_cmd", r.handleReparentCmd)
	r.engine.RegisterHandler("delete_cmd", r.handleDeleteCmd)
	r.engine.RegisterHandler("move_cmd", r.handleMoveCmd)
	r.engine.RegisterHandler("set_retain", r.handleSetRetain)
	r.engine.RegisterHandler("test_cmd", r.handleTestCmd)
	r.engine.RegisterHandler("exec_cmd", r.handleExecCmd)
	r.engine.RegisterHandler("set_cmd_orders", r.handleSetCmdOrders)
}

// cmdParams returns the broker key, the equipment and the command names
// of a step.
func (r *Runner) cmdParams(params map[string]any) (broker, eqpt, cmd string, err error) {
	if broker, eqpt, err = r.eqptParams(params); err != nil {
		return "", "", "", err
	}
	if cmd, err = requireString(params, ParamCmd); err != nil {
		return "", "", "", err
	}
	return broker, eqpt, cmd, nil
}

func (r *Runner) handleAddActionCmd(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, eqpt, name, err := r.cmdParams(step.Params)
	if err != nil {
		return nil, err
	}
	t, err := requireString(step.Params, ParamTopic)
	if err != nil {
		return nil, err
	}
	subtype := paramString(step.Params, ParamSubtype, model.SubTypeOther)
	request := paramString(step.Params, ParamRequest, "")
	retain := paramBool(step.Params, ParamRetain, false)

	if e, err := r.store.Equipment(broker, eqpt); err != nil {
		return nil, err
	} else if e.Command(name) != nil {
		return nil, fmt.Errorf("command %s/%s/%s: %w", broker, eqpt, name, refstore.ErrExists)
	}
	id, err := d.AddActionCmd(ctx, r.label(broker), eqpt, name, t, subtype, request, retain)
	if err != nil {
		return nil, err
	}
	c, err := r.store.SetCmdAction(broker, eqpt, t, name, subtype, nil)
	if err != nil {
		return nil, err
	}
	if err := r.store.SetCmdRequest(broker, eqpt, name, request, retain); err != nil {
		return nil, err
	}
	c.SetIDIfEmpty(id)
	return map[string]any{KeyID: id, KeyTopic: t}, nil
}

// handleAddJSONCmd creates a command on a JSON path of a parent command.
// It takes the value of that path in the parent payload.
func (r *Runner) handleAddJSONCmd(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, eqpt, name, err := r.cmdParams(step.Params)
	if err != nil {
		return nil, err
	}
	parent, err := requireString(step.Params, ParamParent)
	if err != nil {
		return nil, err
	}
	keys := paramStrings(step.Params, ParamKeys)
	if len(keys) == 0 {
		return nil, fmt.Errorf("missing parameter %q", ParamKeys)
	}

	p, err := r.store.Command(broker, eqpt, parent)
	if err != nil {
		return nil, err
	}
	path := topic.JSONPath(p.Configuration.Topic, keys...)
	var value any
	for _, leaf := range topic.Flatten(p.Configuration.Topic, []byte(p.CurrentValue.String())) {
		if leaf.Topic == path {
			value = leaf.Value
		}
	}

	c, err := r.store.AddJSONCommand(broker, eqpt, parent, keys, value, name)
	if err != nil {
		return nil, err
	}
	id, err := d.AddJSONCommand(ctx, r.label(broker), eqpt, parent, keys, name)
	if err != nil {
		_ = r.store.DeleteCommand(broker, eqpt, name)
		return nil, err
	}
	c.SetIDIfEmpty(id)
	return map[string]any{KeyID: id, KeyTopic: path, KeyValue: c.CurrentValue.Interface()}, nil
}

func (r *Runner) handleReparentCmd(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	rp, ok := d.(CommandReparenter)
	if !ok {
		return nil, fmt.Errorf("driver %T cannot move JSON commands", d)
	}
	broker, eqpt, name, err := r.cmdParams(step.Params)
	if err != nil {
		return nil, err
	}
	parent, err := requireString(step.Params, ParamParent)
	if err != nil {
		return nil, err
	}
	if err := r.store.ReparentCommand(broker, eqpt, name, parent); err != nil {
		return nil, err
	}
	return nil, rp.ReparentCommand(ctx, r.label(broker), eqpt, name, parent)
}

func (r *Runner) handleDeleteCmd(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, eqpt, name, err := r.cmdParams(step.Params)
	if err != nil {
		return nil, err
	}
	if err := r.store.DeleteCommand(broker, eqpt, name); err != nil {
		return nil, err
	}
	return nil, d.DeleteCommand(ctx, r.label(broker), eqpt, name)
}

func (r *Runner) handleMoveCmd(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, eqpt, name, err := r.cmdParams(step.Params)
	if err != nil {
		return nil, err
	}
	to, err := paramInt(step.Params, ParamTo, -1)
	if err != nil {
		return nil, err
	}
	if err := r.store.MoveCommand(broker, eqpt, name, to); err != nil {
		return nil, err
	}
	return nil, d.MoveCommand(ctx, r.label(broker), eqpt, name, to)
}

// handleSetRetain sets the retain flag of an action command. Clearing it
// makes the plugin publish an empty retained message on the command topic,
// which the equipment then receives.
func (r *Runner) handleSetRetain(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, eqpt, name, err := r.cmdParams(step.Params)
	if err != nil {
		return nil, err
	}
	retain := paramBool(step.Params, ParamRetain, true)

	c, err := r.store.Command(broker, eqpt, name)
	if err != nil {
		return nil, err
	}
	if c.Type != model.CmdAction || c.Configuration.Request == nil {
		return nil, fmt.Errorf("command %s/%s/%s is not an action", broker, eqpt, name)
	}
	was := c.Configuration.Retain != nil && *c.Configuration.Retain == "1"
	if err := r.store.SetCmdRequest(broker, eqpt, name, *c.Configuration.Request, retain); err != nil {
		return nil, err
	}
	if err := d.SetRetain(ctx, r.label(broker), eqpt, name, retain); err != nil {
		return nil, err
	}
	if was && !retain {
		if err := r.published(broker, refstore.Message{Topic: c.Configuration.Topic}, state); err != nil {
			return nil, err
		}
	}
	return map[string]any{KeyValue: retain}, nil
}

// handleTestCmd runs an action command from its test button.
func (r *Runner) handleTestCmd(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, eqpt, name, err := r.cmdParams(step.Params)
	if err != nil {
		return nil, err
	}
	c, err := r.store.Command(broker, eqpt, name)
	if err != nil {
		return nil, err
	}
	if err := d.TestCommand(ctx, r.label(broker), eqpt, name); err != nil {
		return nil, err
	}
	if c.Type != model.CmdAction {
		return map[string]any{KeyValue: c.CurrentValue.Interface()}, nil
	}
	msg := refstore.Message{Topic: c.Configuration.Topic, Payload: request(c, nil)}
	if err := r.published(broker, msg, state); err != nil {
		return nil, err
	}
	return map[string]any{KeyTopic: msg.Topic, KeyPayload: msg.Payload}, nil
}

// handleExecCmd executes a command through the JSON-RPC API (default) or
// the MQTT API. An info command returns its value; an action command
// publishes its request, which the harness mirrors.
func (r *Runner) handleExecCmd(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	broker, eqpt, name, err := r.cmdParams(step.Params)
	if err != nil {
		return nil, err
	}
	c, err := r.store.Command(broker, eqpt, name)
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, fmt.Errorf("command %s/%s/%s has no id yet: assert it first", broker, eqpt, name)
	}
	options := paramMap(step.Params, ParamOptions)
	ch := channel.ID(paramString(step.Params, ParamChannel, string(channel.JSONRPC)))

	out := map[string]any{KeyChannel: string(ch)}
	var raw json.RawMessage
	switch ch {
	case channel.JSONRPC:
		r.config.Metrics.ObserveRequest(string(ch), "cmd::execCmd")
		raw, err = r.api.ExecCmd(ctx, c.ID, options)
	case channel.MQTT:
		raw, err = r.execOverMQTT(ctx, broker, c, options, out)
	default:
		return nil, fmt.Errorf("exec_cmd: unknown channel %q", ch)
	}
	if err != nil {
		return nil, err
	}
	out[KeyPayload] = string(raw)

	var result struct {
		Value any `json:"value"`
	}
	if len(raw) > 0 && json.Unmarshal(raw, &result) == nil {
		out[KeyValue] = result.Value
	}
	if c.Type != model.CmdAction {
		return out, nil
	}

	if v, ok := options["slider"]; ok && c.SubType == model.SubTypeSlider {
		c.CurrentValue = model.NormalizeValue(v)
	}
	msg := refstore.Message{Topic: c.Configuration.Topic, Payload: request(c, options)}
	if err := r.published(broker, msg, state); err != nil {
		return nil, err
	}
	out[KeyTopic] = msg.Topic
	return out, nil
}

func (r *Runner) execOverMQTT(ctx context.Context, broker string, c *model.Command, options map[string]any, out map[string]any) (json.RawMessage, error) {
	client, err := r.pool.Get(broker)
	if err != nil {
		return nil, err
	}
	params := map[string]any{"id": c.ID}
	if len(options) > 0 {
		params["options"] = options
	}
	r.config.Metrics.ObserveRequest(string(channel.MQTT), "cmd::execCmd")
	if c.Type != model.CmdAction {
		return client.Call(ctx, "cmd::execCmd", params)
	}
	resp, side, err := client.RequestWithSideEffect(ctx, "cmd::execCmd", params, c.Configuration.Topic)
	if err != nil {
		return nil, err
	}
	out[KeySide] = string(side)
	return resp.Result, nil
}

// request returns the payload an action command publishes.
func request(c *model.Command, options map[string]any) string {
	if c.Configuration.Request == nil {
		return ""
	}
	req := *c.Configuration.Request
	for _, k := range execOptions {
		if v, ok := options[k]; ok {
			req = strings.ReplaceAll(req, "#"+k+"#", fmt.Sprint(v))
		}
	}
	return req
}

// handleSetCmdOrders reassigns the command orders in the reference, as a
// plugin upgrade does: "sequential", a fixed order, or the orders of the
// same commands on another equipment ("from").
func (r *Runner) handleSetCmdOrders(_ context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	broker, eqpt, err := r.eqptParams(step.Params)
	if err != nil {
		return nil, err
	}

	var src refstore.OrderSource
	switch v := paramString(step.Params, ParamValue, "sequential"); {
	case paramString(step.Params, ParamFrom, "") != "":
		other, err := r.store.Equipment(broker, paramString(step.Params, ParamFrom, ""))
		if err != nil {
			return nil, err
		}
		src = refstore.CopyFrom(other.Cmds)
	case v == "sequential":
		src = refstore.Sequential()
	default:
		src = refstore.Fixed(v)
	}
	return nil, r.store.SetCmdOrders(broker, eqpt, src)
}

// published mirrors a message the plugin or the harness published on a
// broker, and keeps its time for last communication checks.
func (r *Runner) published(broker string, msg refstore.Message, state *engine.ExecutionState) error {
	state.Custom[customLastPublish] = time.Now()
	return r.mirrorMessage(broker, msg)
}
