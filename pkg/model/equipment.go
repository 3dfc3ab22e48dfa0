package model

import (
	"fmt"
	"sort"
)

// Equipment types stored in the "type" configuration key.
const (
	TypeEquipment = "eqpt"
	TypeBroker    = "broker"
)

// Configuration keys accepted by EqConfig.Set.
const (
	ConfAutoAddCmd   = "auto_add_cmd"
	ConfQoS          = "Qos"
	ConfTopic        = "topic"
	ConfBrkID        = "brkId"
	ConfMqttAddress  = "mqttAddress"
	ConfMqttPort     = "mqttPort"
	ConfMqttID       = "mqttId"
	ConfMqttUser     = "mqttUser"
	ConfMqttPass     = "mqttPass"
	ConfMqttIncTopic = "mqttIncTopic"
	ConfAPI          = "api"
)

// EqConfig is the configuration map of an equipment. Broker-only keys are
// nil on regular equipment, and Topic is nil on brokers.
type EqConfig struct {
	Type       string  `json:"type"`
	BrkID      string  `json:"brkId"`
	Topic      *string `json:"topic,omitempty"`
	AutoAddCmd string  `json:"auto_add_cmd"`
	QoS        string  `json:"Qos"`

	MqttAddress  *string `json:"mqttAddress,omitempty"`
	MqttPort     *string `json:"mqttPort,omitempty"`
	MqttID       *string `json:"mqttId,omitempty"`
	MqttUser     *string `json:"mqttUser,omitempty"`
	MqttPass     *string `json:"mqttPass,omitempty"`
	MqttIncTopic *string `json:"mqttIncTopic,omitempty"`
	API          *string `json:"api,omitempty"`
}

// Set assigns the configuration key to value.
func (c *EqConfig) Set(key, value string) error {
	switch key {
	case ConfAutoAddCmd:
		c.AutoAddCmd = value
	case ConfQoS:
		c.QoS = value
	case ConfBrkID:
		c.BrkID = value
	case ConfTopic:
		c.Topic = &value
	default:
		p := c.brokerKey(key)
		if p == nil {
			return fmt.Errorf("unknown configuration key %q for %s", key, c.Type)
		}
		*p = &value
	}
	return nil
}

// Get returns the value of the configuration key.
func (c *EqConfig) Get(key string) (string, bool) {
	switch key {
	case ConfAutoAddCmd:
		return c.AutoAddCmd, true
	case ConfQoS:
		return c.QoS, true
	case ConfBrkID:
		return c.BrkID, true
	case ConfTopic:
		if c.Topic == nil {
			return "", false
		}
		return *c.Topic, true
	}
	p := c.brokerKey(key)
	if p == nil || *p == nil {
		return "", false
	}
	return **p, true
}

func (c *EqConfig) brokerKey(key string) **string {
	if c.Type != TypeBroker {
		return nil
	}
	switch key {
	case ConfMqttAddress:
		return &c.MqttAddress
	case ConfMqttPort:
		return &c.MqttPort
	case ConfMqttID:
		return &c.MqttID
	case ConfMqttUser:
		return &c.MqttUser
	case ConfMqttPass:
		return &c.MqttPass
	case ConfMqttIncTopic:
		return &c.MqttIncTopic
	case ConfAPI:
		return &c.API
	}
	return nil
}

// Equipment is a jMQTT eqLogic: a regular equipment or a broker
// pseudo-equipment.
type Equipment struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	LogicalID     string   `json:"logicalId"`
	ObjectID      *string  `json:"object_id"`
	EqTypeName    string   `json:"eqType_name"`
	IsVisible     string   `json:"isVisible"`
	IsEnable      string   `json:"isEnable"`
	Order         string   `json:"order"`
	Configuration EqConfig `json:"configuration"`

	// Cmds is kept sorted with SortCommands. It is compared separately
	// from the equipment fields.
	Cmds []*Command `json:"-"`
}

// NewEquipment builds a regular equipment from the equipment template. When
// autoTopic is set the subscription topic is name + "/#", as the plugin does
// for automatically included equipment.
func NewEquipment(name string, objectID *string, autoTopic bool) *Equipment {
	e := &Equipment{}
	mustLoadTemplate(eqptTemplate, e)
	e.Name = name
	e.ObjectID = clonePtr(objectID)
	if autoTopic {
		e.SetTopic(name + "/#")
	}
	return e
}

// NewBrokerEquipment builds the pseudo-equipment of a broker.
func NewBrokerEquipment(name, address string, port int, clientID string) *Equipment {
	e := &Equipment{}
	mustLoadTemplate(brokerTemplate, e)
	e.Name = name
	e.LogicalID = clientID + "/#"
	_ = e.Configuration.Set(ConfMqttAddress, address)
	_ = e.Configuration.Set(ConfMqttPort, fmt.Sprint(port))
	_ = e.Configuration.Set(ConfMqttID, clientID)
	return e
}

// IsBroker reports whether e is a broker pseudo-equipment.
func (e *Equipment) IsBroker() bool {
	return e.Configuration.Type == TypeBroker
}

// SetIDIfEmpty binds the equipment id unless it is already known. A broker
// also binds its own brkId.
func (e *Equipment) SetIDIfEmpty(id string) {
	if e.ID != "" {
		return
	}
	e.ID = id
	if e.IsBroker() && e.Configuration.BrkID == "" {
		e.Configuration.BrkID = id
	}
}

// SetTopic sets the subscription topic of a regular equipment.
func (e *Equipment) SetTopic(t string) {
	e.LogicalID = t
	e.Configuration.Topic = &t
}

// Topic returns the subscription topic.
func (e *Equipment) Topic() string {
	return e.LogicalID
}

// SetEnabled sets the isEnable flag.
func (e *Equipment) SetEnabled(enabled bool) {
	e.IsEnable = boolFlag(enabled)
}

// Enabled reports the isEnable flag.
func (e *Equipment) Enabled() bool {
	return e.IsEnable == "1"
}

// AutoAddCmd reports whether the plugin adds commands automatically.
func (e *Equipment) AutoAddCmd() bool {
	return e.Configuration.AutoAddCmd != "0"
}

// Command returns the named command, or nil.
func (e *Equipment) Command(name string) *Command {
	return CommandByName(e.Cmds, name)
}

// CommandIndex returns the position of the named command, or -1.
func (e *Equipment) CommandIndex(name string) int {
	for i, c := range e.Cmds {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// SetCmdEqLogicID propagates the equipment id to its commands.
func (e *Equipment) SetCmdEqLogicID() {
	for _, c := range e.Cmds {
		c.EqLogicID = e.ID
	}
}

// Clone returns a deep copy of the equipment and its commands.
func (e *Equipment) Clone() *Equipment {
	cp := *e
	cp.ObjectID = clonePtr(e.ObjectID)
	c := &cp.Configuration
	c.Topic = clonePtr(c.Topic)
	c.MqttAddress = clonePtr(c.MqttAddress)
	c.MqttPort = clonePtr(c.MqttPort)
	c.MqttID = clonePtr(c.MqttID)
	c.MqttUser = clonePtr(c.MqttUser)
	c.MqttPass = clonePtr(c.MqttPass)
	c.MqttIncTopic = clonePtr(c.MqttIncTopic)
	c.API = clonePtr(c.API)
	cp.Cmds = make([]*Command, len(e.Cmds))
	for i, cmd := range e.Cmds {
		cp.Cmds[i] = cmd.Clone()
	}
	return &cp
}

// CompareEquipments orders equipment the way eqLogic::byType results are
// sorted for comparison: brokers first, then natural case-insensitive name.
func CompareEquipments(a, b *Equipment) int {
	if ab, bb := a.IsBroker(), b.IsBroker(); ab != bb {
		if ab {
			return -1
		}
		return 1
	}
	return CompareNatural(a.Name, b.Name)
}

// SortEquipments sorts eqpts in place with CompareEquipments.
func SortEquipments(eqpts []*Equipment) {
	sort.SliceStable(eqpts, func(i, j int) bool {
		return CompareEquipments(eqpts[i], eqpts[j]) < 0
	})
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// LastCommunicationLayout is the layout of the status.lastCommunication
// field, in the local time of the Jeedom host.
const LastCommunicationLayout = "2006-01-02 15:04:05"
