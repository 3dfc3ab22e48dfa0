package model

import (
	"fmt"
	"sort"

	"github.com/domotruc/jmqtt-test/pkg/topic"
)

// Names of the commands of a broker pseudo-equipment.
const (
	BrokerStatusCmd = "status"
	BrokerAPICmd    = "api"
)

// Broker groups a broker pseudo-equipment with the equipment attached to it.
type Broker struct {
	// Name is the key the harness knows the broker by. The broker
	// equipment may be renamed without changing it.
	Name string

	// ClientID is the MQTT client id of the plugin daemon for this broker.
	ClientID string

	// State is the expected daemon state.
	State DaemonState

	// Eqpts is sorted with SortEquipments; Eqpts[0] is the broker
	// pseudo-equipment.
	Eqpts []*Equipment
}

// NewBroker creates a broker with its pseudo-equipment. Its daemon state is
// ok and its status command holds the matching payload.
func NewBroker(name, address string, port int, clientID string) *Broker {
	b := &Broker{
		Name:     name,
		ClientID: clientID,
		State:    DaemonOK,
		Eqpts:    []*Equipment{NewBrokerEquipment(name, address, port, clientID)},
	}
	status := NewCommand(BrokerStatusCmd, b.StatusTopic(), CmdInfo, SubTypeString, b.State.StatusPayload())
	b.Equipment().Cmds = append(b.Equipment().Cmds, status)
	return b
}

// Equipment returns the broker pseudo-equipment.
func (b *Broker) Equipment() *Equipment {
	return b.Eqpts[0]
}

// ID returns the broker equipment id, empty until resolved.
func (b *Broker) ID() string {
	return b.Equipment().ID
}

// EquipmentName returns the current name of the broker equipment.
func (b *Broker) EquipmentName() string {
	return b.Equipment().Name
}

// StatusTopic returns the topic the daemon publishes its status on.
func (b *Broker) StatusTopic() string {
	return topic.TruncateWildcard(b.Equipment().LogicalID) + BrokerStatusCmd
}

// APITopic returns the topic the daemon listens to for API requests.
func (b *Broker) APITopic() string {
	return topic.TruncateWildcard(b.Equipment().LogicalID) + BrokerAPICmd
}

// SetID binds the broker id and propagates it as brkId to every equipment.
func (b *Broker) SetID(id string) {
	b.Equipment().SetIDIfEmpty(id)
	for _, e := range b.Eqpts {
		e.Configuration.BrkID = b.ID()
		e.SetCmdEqLogicID()
	}
}

// SetState sets the expected daemon state and the status command value.
func (b *Broker) SetState(s DaemonState) {
	b.State = s
	if c := b.Equipment().Command(BrokerStatusCmd); c != nil {
		c.Update(c.Name, c.Configuration.Topic, s.StatusPayload())
	}
}

// Index returns the position of the named equipment, or -1.
func (b *Broker) Index(name string) int {
	for i, e := range b.Eqpts {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// Find returns the named equipment, or nil.
func (b *Broker) Find(name string) *Equipment {
	if i := b.Index(name); i >= 0 {
		return b.Eqpts[i]
	}
	return nil
}

// Insert adds e and keeps the equipment list sorted.
func (b *Broker) Insert(e *Equipment) {
	e.Configuration.BrkID = b.ID()
	b.Eqpts = append(b.Eqpts, e)
	SortEquipments(b.Eqpts)
}

// Remove splices out the equipment at index i. The broker pseudo-equipment
// cannot be removed.
func (b *Broker) Remove(i int) error {
	if i <= 0 || i >= len(b.Eqpts) {
		return fmt.Errorf("cannot remove equipment %d of broker %s", i, b.Name)
	}
	b.Eqpts = append(b.Eqpts[:i:i], b.Eqpts[i+1:]...)
	return nil
}

// Card is the projection of an equipment displayed on the plugin page.
type Card struct {
	Name       string      `json:"name"`
	AutoAddCmd bool        `json:"auto_add_cmd"`
	State      DaemonState `json:"state,omitempty"`
}

// Cards returns the display projection of the broker equipment list.
func (b *Broker) Cards() []Card {
	cards := make([]Card, 0, len(b.Eqpts))
	for _, e := range b.Eqpts {
		c := Card{Name: e.Name, AutoAddCmd: e.AutoAddCmd()}
		if e.IsBroker() {
			c.State = b.State
		}
		cards = append(cards, c)
	}
	return cards
}

// SortBrokers orders brokers by natural case-insensitive equipment name, the
// order in which the plugin lists them.
func SortBrokers(brokers []*Broker) {
	sort.SliceStable(brokers, func(i, j int) bool {
		return CompareNatural(brokers[i].EquipmentName(), brokers[j].EquipmentName()) < 0
	})
}
