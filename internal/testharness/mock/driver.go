package mock

import (
	"context"

	"github.com/domotruc/jmqtt-test/pkg/model"
)

// Driver performs harness actions directly on a fake plugin, in place of
// the browser.
type Driver struct {
	J    *Jeedom
	MQTT *Broker
}

// NewDriver creates a Driver. Brokers it adds connect to mqtt.
func NewDriver(j *Jeedom, mqtt *Broker) *Driver {
	return &Driver{J: j, MQTT: mqtt}
}

func (d *Driver) AddBroker(_ context.Context, name, address string, port int, clientID string) error {
	_, err := d.J.AddBroker(BrokerParams{Name: name, Address: address, Port: port, ClientID: clientID, MQTT: d.MQTT})
	return err
}

func (d *Driver) DeleteBroker(_ context.Context, name string) error {
	return d.J.DeleteBroker(name)
}

func (d *Driver) AddEquipment(_ context.Context, broker, name, topic string, enabled bool) error {
	_, err := d.J.AddEquipment(broker, name, topic, enabled)
	return err
}

func (d *Driver) DeleteEquipment(_ context.Context, broker, name string) error {
	return d.J.Delete(broker, name)
}

func (d *Driver) RenameEquipment(_ context.Context, broker, oldName, newName string) error {
	return d.J.Rename(broker, oldName, newName)
}

func (d *Driver) SetTopic(_ context.Context, broker, eqpt, topic string) error {
	return d.J.SetTopic(broker, eqpt, topic)
}

func (d *Driver) SetEnabled(_ context.Context, broker, eqpt string, enabled bool) error {
	return d.J.SetEnabled(broker, eqpt, enabled)
}

func (d *Driver) SetAutoAddCmd(_ context.Context, broker, eqpt string, enabled bool) error {
	return d.J.SetAutoAddCmd(broker, eqpt, enabled)
}

func (d *Driver) SetConfiguration(_ context.Context, broker, eqpt, key, value string) error {
	return d.J.SetConfiguration(broker, eqpt, key, value)
}

func (d *Driver) ShowEquipment(_ context.Context, broker, eqpt string) error {
	return d.J.ShowEquipment(broker, eqpt)
}

func (d *Driver) AddActionCmd(_ context.Context, broker, eqpt, name, topic, subtype, request string, retain bool) (string, error) {
	return d.J.AddActionCmd(broker, eqpt, name, topic, subtype, request, retain)
}

func (d *Driver) AddJSONCommand(_ context.Context, broker, eqpt, parent string, keys []string, name string) (string, error) {
	return d.J.AddJSONCommand(broker, eqpt, parent, keys, name)
}

func (d *Driver) DeleteCommand(_ context.Context, broker, eqpt, name string) error {
	return d.J.DeleteCommand(broker, eqpt, name)
}

func (d *Driver) MoveCommand(_ context.Context, broker, eqpt, name string, to int) error {
	return d.J.MoveCommand(broker, eqpt, name, to)
}

func (d *Driver) SetRetain(_ context.Context, broker, eqpt, cmd string, retain bool) error {
	return d.J.SetRetain(broker, eqpt, cmd, retain)
}

func (d *Driver) TestCommand(_ context.Context, broker, eqpt, cmd string) error {
	return d.J.TestCommand(broker, eqpt, cmd)
}

func (d *Driver) SetIncludeMode(_ context.Context, broker string, on bool) error {
	return d.J.SetIncludeMode(broker, on)
}

func (d *Driver) ReparentCommand(_ context.Context, broker, eqpt, name, parent string) error {
	return d.J.ReparentCommand(broker, eqpt, name, parent)
}

// SetReachable makes the broker of a daemon reachable or not, without
// touching its configuration.
func (d *Driver) SetReachable(_ context.Context, broker string, reachable bool) error {
	return d.J.SetReachable(broker, reachable)
}

func (d *Driver) DaemonState(_ context.Context, broker string) (model.DaemonState, error) {
	return d.J.DaemonState(broker)
}
