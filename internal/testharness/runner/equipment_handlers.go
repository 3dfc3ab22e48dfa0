package runner

import (
	"context"
	"fmt"

	"github.com/domotruc/jmqtt-test/internal/testharness/engine"
	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
	"github.com/domotruc/jmqtt-test/pkg/model"
)

func (r *Runner) registerEquipmentHandlers() {
	r.engine.RegisterHandler("add_equipment", r.handleAddEquipment)
	r.engine.RegisterHandler("delete_equipment", r.handleDeleteEquipment)
	r.engine.RegisterHandler("rename_equipment", r.handleRenameEquipment)
	r.engine.RegisterHandler("set_topic", r.handleSetTopic)
	r.engine.RegisterHandler("set_enabled", r.handleSetEnabled)
	r.engine.RegisterHandler("set_auto_add_cmd", r.handleSetAutoAddCmd)
	r.engine.RegisterHandler("set_configuration", r.handleSetConfiguration)
	r.engine.RegisterHandler("show_equipment", r.handleShowEquipment)
	r.engine.RegisterHandler("include_mode", r.handleIncludeMode)
}

// eqptParams returns the broker key and the equipment name of
// a step.
func (r *Runner) eqptParams(params map[string]any) (broker, eqpt string, err error) {
	if broker, err = r.brokerParam(params); err != nil {
		return "", "", err
	}
	if eqpt, err = requireString(params, ParamEqpt); err != nil {
		return "", "", err
	}
	return broker, eqpt, nil
}

// handleAddEquipment creates an equipment. Without a topic it subscribes
// to "<name>/#"; an object parameter attaches it to a Jeedom object.
func (r *Runner) handleAddEquipment(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, name, err := r.eqptParams(step.Params)
	if err != nil {
		return nil, err
	}
	enabled := paramBool(step.Params, ParamEnabled, true)
	t := paramString(step.Params, ParamTopic, "")

	var e *model.Equipment
	if object := paramString(step.Params, ParamObject, ""); object != "" {
		e, err = r.store.AddEquipmentInObject(ctx, broker, name, object, enabled, t == "")
	} else {
		e, err = r.store.AddEquipment(broker, name, enabled, nil, t == "")
	}
	if err != nil {
		return nil, err
	}
	if t != "" {
		e.SetTopic(t)
	}

	label := r.label(broker)
	if err := d.AddEquipment(ctx, label, name, e.LogicalID, enabled); err != nil {
		_ = r.store.DeleteEquipment(broker, name)
		return nil, err
	}
	return map[string]any{
		KeyBroker:    broker,
		KeyLogicalID: e.LogicalID,
	}, nil
}

func (r *Runner) handleDeleteEquipment(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, name, err := r.eqptParams(step.Params)
	if err != nil {
		return nil, err
	}
	if err := r.store.DeleteEquipment(broker, name); err != nil {
		return nil, err
	}
	return map[string]any{KeyBroker: broker}, d.DeleteEquipment(ctx, r.label(broker), name)
}

func (r *Runner) handleRenameEquipment(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, name, err := r.eqptParams(step.Params)
	if err != nil {
		return nil, err
	}
	newName, err := requireString(step.Params, ParamNewName)
	if err != nil {
		return nil, err
	}
	label := r.label(broker)
	if err := r.store.RenameEquipment(broker, name, newName); err != nil {
		return nil, err
	}
	return map[string]any{KeyValue: newName}, d.RenameEquipment(ctx, label, name, newName)
}

// handleSetTopic changes the subscription topic. The plugin restarts the
// broker daemon on save.
func (r *Runner) handleSetTopic(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, name, err := r.eqptParams(step.Params)
	if err != nil {
		return nil, err
	}
	t, err := requireString(step.Params, ParamTopic)
	if err != nil {
		return nil, err
	}
	if err := r.store.SetTopic(broker, name, t); err != nil {
		return nil, err
	}
	if err := d.SetTopic(ctx, r.label(broker), name, t); err != nil {
		return nil, err
	}

	b, _ := r.store.Broker(broker)
	msgs := []string{}
	if b.State.Online() {
		msgs = model.ExpectedEquipmentStatusMessages(true)
	}
	out := r.recordStatus(broker, b.State, b.State, msgs, state)
	out[KeyLogicalID] = t
	return out, nil
}

// handleSetEnabled enables or disables an equipment. On the broker
// equipment the daemon follows.
func (r *Runner) handleSetEnabled(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, name, err := r.eqptParams(step.Params)
	if err != nil {
		return nil, err
	}
	enabled := paramBool(step.Params, ParamEnabled, true)

	e, err := r.store.Equipment(broker, name)
	if err != nil {
		return nil, err
	}
	if e.IsBroker() {
		return r.setBrokerEnabled(ctx, d, broker, enabled, state)
	}
	if err := r.store.SetEnabled(broker, name, enabled); err != nil {
		return nil, err
	}
	return map[string]any{KeyValue: enabled}, d.SetEnabled(ctx, r.label(broker), name, enabled)
}

func (r *Runner) handleSetAutoAddCmd(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, name, err := r.eqptParams(step.Params)
	if err != nil {
		return nil, err
	}
	enabled := paramBool(step.Params, ParamEnabled, true)
	if err := r.store.SetAutoAddCmd(broker, name, enabled); err != nil {
		return nil, err
	}
	return map[string]any{KeyValue: enabled}, d.SetAutoAddCmd(ctx, r.label(broker), name, enabled)
}

// handleSetConfiguration sets one configuration key. On the broker
// equipment every key but auto_add_cmd restarts the daemon, and a new
// mqttId moves the API topics the harness talks to.
func (r *Runner) handleSetConfiguration(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, name, err := r.eqptParams(step.Params)
	if err != nil {
		return nil, err
	}
	key, err := requireString(step.Params, ParamKey)
	if err != nil {
		return nil, err
	}
	value := paramString(step.Params, ParamValue, "")

	e, err := r.store.Equipment(broker, name)
	if err != nil {
		return nil, err
	}
	label := r.label(broker)
	if err := r.store.SetConfiguration(broker, name, key, value); err != nil {
		return nil, err
	}
	if err := d.SetConfiguration(ctx, label, name, key, value); err != nil {
		return nil, err
	}

	out := map[string]any{KeyValue: value}
	if !e.IsBroker() || key == model.ConfAutoAddCmd {
		return out, nil
	}

	if key == model.ConfMqttID {
		addr, err := r.address(broker)
		if err != nil {
			return nil, err
		}
		r.pool.Set(broker, r.apiConfig(broker, addr, value))
	}
	out, err = r.daemonEvent(broker, model.EventRestart, false, true, state)
	if err != nil {
		return nil, err
	}
	if key == model.ConfMqttID {
		// The offline status went to the previous topic.
		msgs := []string{}
		if b, _ := r.store.Broker(broker); b.State.Online() {
			msgs = append(msgs, model.StatusOnline)
		}
		state.Custom[customStatusPre+broker] = msgs
		out[KeyStatus] = msgs
		out[KeyCount] = len(msgs)
	}
	out[KeyValue] = value
	return out, nil
}

// handleShowEquipment opens the equipment page, so the command panel can
// be checked.
func (r *Runner) handleShowEquipment(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, name, err := r.eqptParams(step.Params)
	if err != nil {
		return nil, err
	}
	if !r.store.Exists(broker, name) {
		return nil, fmt.Errorf("equipment %s/%s is not in the reference", broker, name)
	}
	return nil, d.ShowEquipment(ctx, r.label(broker), name)
}

// handleIncludeMode turns the automatic inclusion of a broker on or off.
// Mirrored publications then create equipment for unmatched topics.
func (r *Runner) handleIncludeMode(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	broker, err := r.brokerParam(step.Params)
	if err != nil {
		return nil, err
	}
	on := paramBool(step.Params, ParamOn, true)
	if _, err := r.store.Broker(broker); err != nil {
		return nil, err
	}
	if err := d.SetIncludeMode(ctx, r.label(broker), on); err != nil {
		return nil, err
	}
	r.include[broker] = on
	return map[string]any{KeyBroker: broker, KeyValue: on}, nil
}
