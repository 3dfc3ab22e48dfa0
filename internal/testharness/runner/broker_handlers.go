package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/domotruc/jmqtt-test/internal/testharness/assertions"
	"github.com/domotruc/jmqtt-test/internal/testharness/engine"
	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
	plog "github.com/domotruc/jmqtt-test/pkg/log"
	"github.com/domotruc/jmqtt-test/pkg/model"
	"github.com/domotruc/jmqtt-test/pkg/reconcile"
	"github.com/domotruc/jmqtt-test/pkg/transport"
)

// unreachableAddress is a TEST-NET-1 address: nothing answers there.
const unreachableAddress = "192.0.2.1"

// Reachability is implemented by drivers able to cut a daemon from its
// broker without touching the broker configuration.
type Reachability interface {
	SetReachable(ctx context.Context, broker string, reachable bool) error
}

// DaemonStateReader is implemented by drivers reading the daemon state
// without the plugin page.
type DaemonStateReader interface {
	DaemonState(ctx context.Context, broker string) (model.DaemonState, error)
}

func (r *Runner) registerBrokerHandlers() {
	r.engine.RegisterHandler("add_broker", r.handleAddBroker)
	r.engine.RegisterHandler("delete_broker", r.handleDeleteBroker)
	r.engine.RegisterHandler("rename_broker", r.handleRenameBroker)
	r.engine.RegisterHandler("daemon_event", r.handleDaemonEvent)
}

// handleAddBroker creates a broker. Address, port and client id default
// to the environment broker of the same name.
func (r *Runner) handleAddBroker(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	name, err := r.brokerParam(step.Params)
	if err != nil {
		return nil, err
	}

	addr := transport.Broker{Port: transport.DefaultPort}
	clientID := ""
	if env, ok := r.config.Env.Brokers[name]; ok {
		addr = env.Transport()
		clientID = env.ClientID
	}
	addr.Host = paramString(step.Params, ParamAddress, addr.Host)
	if addr.Port, err = paramInt(step.Params, ParamPort, addr.Port); err != nil {
		return nil, err
	}
	clientID = paramString(step.Params, ParamClientID, clientID)
	if addr.Host == "" {
		return nil, fmt.Errorf("broker %s: no address", name)
	}
	if clientID == "" {
		clientID = "jeedom"
	}

	b, err := r.store.AddBroker(name, addr.Host, addr.Port, clientID)
	if err != nil {
		return nil, err
	}
	if err := d.AddBroker(ctx, name, addr.Host, addr.Port, clientID); err != nil {
		_ = r.store.DeleteBroker(name)
		return nil, err
	}
	r.added = append(r.added, name)
	r.addresses[name] = addr
	r.pool.Set(name, r.apiConfig(name, addr, clientID))
	if r.defaultBroker == "" {
		r.defaultBroker = name
	}

	msgs := []string{model.StatusOnline}
	state.Custom[customStatusPre+name] = msgs
	r.rec.State(plog.StateEntityDaemon, string(model.DaemonUnchecked), string(b.State), "broker added")
	r.logger.Info("broker added", "broker", name, "address", addr.Addr(), "clientId", clientID)

	return map[string]any{
		KeyBroker:      name,
		KeyClientID:    clientID,
		KeyStatusTopic: b.StatusTopic(),
		KeyState:       string(b.State),
		KeyStatus:      msgs,
	}, nil
}

func (r *Runner) handleDeleteBroker(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	name, err := r.brokerParam(step.Params)
	if err != nil {
		return nil, err
	}
	label := r.label(name)
	if err := r.store.DeleteBroker(name); err != nil {
		return nil, err
	}
	if err := d.DeleteBroker(ctx, label); err != nil {
		return nil, err
	}
	r.added = slices.DeleteFunc(r.added, func(n string) bool { return n == name })
	delete(state.Custom, customStatusPre+name)
	r.restoreAPIConfig(name)
	return map[string]any{KeyBroker: name}, nil
}

// handleRenameBroker renames the broker equipment. Steps keep addressing
// the broker by its original name.
func (r *Runner) handleRenameBroker(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	name, err := r.brokerParam(step.Params)
	if err != nil {
		return nil, err
	}
	newName, err := requireString(step.Params, ParamNewName)
	if err != nil {
		return nil, err
	}
	label := r.label(name)
	if err := r.store.RenameBroker(name, newName); err != nil {
		return nil, err
	}
	if err := d.RenameEquipment(ctx, label, label, newName); err != nil {
		return nil, err
	}
	return map[string]any{KeyBroker: name, KeyValue: newName}, nil
}

func parseDaemonEvent(s string) (model.DaemonEvent, error) {
	for _, ev := range []model.DaemonEvent{
		model.EventEnable, model.EventDisable, model.EventUnreachable,
		model.EventReachable, model.EventRestart,
	} {
		if ev.String() == s {
			return ev, nil
		}
	}
	return 0, fmt.Errorf("unknown daemon event %q", s)
}

// handleDaemonEvent applies an event moving the daemon of a broker and
// records the status messages a capture must then observe.
func (r *Runner) handleDaemonEvent(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	d, err := r.requireDriver()
	if err != nil {
		return nil, err
	}
	name, err := r.brokerParam(step.Params)
	if err != nil {
		return nil, err
	}
	evName, err := requireString(step.Params, ParamEvent)
	if err != nil {
		return nil, err
	}
	ev, err := parseDaemonEvent(evName)
	if err != nil {
		return nil, err
	}
	b, err := r.store.Broker(name)
	if err != nil {
		return nil, err
	}
	label := b.EquipmentName()

	var out map[string]any
	switch ev {
	case model.EventEnable, model.EventDisable:
		out, err = r.setBrokerEnabled(ctx, d, name, ev == model.EventEnable, state)
	case model.EventUnreachable, model.EventReachable:
		reachable := ev == model.EventReachable
		if err = r.setReachable(ctx, d, name, label, reachable); err == nil {
			out, err = r.daemonEvent(name, ev, false, true, state)
		}
	default:
		qos := b.Equipment().Configuration.QoS
		if qos == "" {
			qos = "1"
		}
		if err = d.SetConfiguration(ctx, label, label, model.ConfQoS, qos); err == nil {
			out, err = r.daemonEvent(name, ev, false, true, state)
		}
	}
	if err != nil {
		return nil, err
	}

	if want := paramString(step.Params, ParamState, ""); want != "" {
		res := assertions.DaemonState(model.DaemonState(out[KeyState].(string)), model.DaemonState(want))
		if err := res.Err(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// setBrokerEnabled enables or disables the broker equipment. Saving an
// unchanged flag does not move the daemon.
func (r *Runner) setBrokerEnabled(ctx context.Context, d reconcile.ActionDriver, name string, enabled bool, state *engine.ExecutionState) (map[string]any, error) {
	b, err := r.store.Broker(name)
	if err != nil {
		return nil, err
	}
	label := b.EquipmentName()
	if err := d.SetEnabled(ctx, label, label, enabled); err != nil {
		return nil, err
	}
	if b.Equipment().Enabled() == enabled {
		return r.recordStatus(name, b.State, b.State, nil, state), nil
	}

	prev := b.State
	if err := r.store.SetEnabled(name, label, enabled); err != nil {
		return nil, err
	}
	next := b.State
	msgs := model.ExpectedStatusMessages(prev, next, true, false)
	return r.recordStatus(name, prev, next, msgs, state), nil
}

// setReachable cuts the daemon from its broker or reconnects it. Without
// driver support the broker address is pointed at an unreachable host and
// restored afterwards.
func (r *Runner) setReachable(ctx context.Context, d reconcile.ActionDriver, name, label string, reachable bool) error {
	if rd, ok := d.(Reachability); ok {
		return rd.SetReachable(ctx, label, reachable)
	}
	address := unreachableAddress
	if reachable {
		a, err := r.address(name)
		if err != nil {
			return err
		}
		address = a.Host
	}
	if err := d.SetConfiguration(ctx, label, label, model.ConfMqttAddress, address); err != nil {
		return err
	}
	return r.store.SetConfiguration(name, label, model.ConfMqttAddress, address)
}

// daemonEvent moves the expected daemon state of a broker.
func (r *Runner) daemonEvent(name string, ev model.DaemonEvent, enableChanged, restarted bool, state *engine.ExecutionState) (map[string]any, error) {
	prev, next, err := r.store.ApplyDaemonEvent(name, ev)
	if err != nil {
		return nil, err
	}
	msgs := model.ExpectedStatusMessages(prev, next, enableChanged, restarted)
	return r.recordStatus(name, prev, next, msgs, state), nil
}

// recordStatus keeps the status messages expected after a daemon change
// for capture_expect_status.
func (r *Runner) recordStatus(name string, prev, next model.DaemonState, msgs []string, state *engine.ExecutionState) map[string]any {
	if msgs == nil {
		msgs = []string{}
	}
	state.Custom[customStatusPre+name] = msgs
	if prev != next {
		r.rec.State(plog.StateEntityDaemon, string(prev), string(next), name)
	}
	r.logger.Debug("daemon change", "broker", name, "from", prev, "to", next, "status", msgs)
	return map[string]any{
		KeyBroker:    name,
		KeyPrevState: string(prev),
		KeyState:     string(next),
		KeyStatus:    msgs,
		KeyCount:     len(msgs),
	}
}

// expectedStatus returns the status messages recorded by the last daemon
// change of a broker.
func expectedStatus(state *engine.ExecutionState, broker string) ([]string, error) {
	msgs, ok := state.Custom[customStatusPre+broker].([]string)
	if !ok {
		return nil, errors.New("no daemon change recorded for broker " + broker)
	}
	return msgs, nil
}
