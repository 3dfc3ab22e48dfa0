package mock

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/domotruc/jmqtt-test/pkg/model"
	"github.com/domotruc/jmqtt-test/pkg/topic"
	"github.com/domotruc/jmqtt-test/pkg/version"
)

// DefaultJeedomVersion is the core version reported by a fake plugin.
const DefaultJeedomVersion = "4.4.9"

// LastCommunicationLayout is the layout of status.lastCommunication.
const LastCommunicationLayout = model.LastCommunicationLayout

// JeedomConfig configures a fake plugin.
type JeedomConfig struct {
	// Version is the reported core version. Defaults to 4.4.9.
	Version string

	// APIKey required on JSON-RPC requests. Empty accepts any key.
	APIKey string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// BrokerParams describes a broker created in the fake plugin.
type BrokerParams struct {
	Name     string
	Address  string
	Port     int
	ClientID string

	// MQTT is the server the daemon connects to.
	MQTT *Broker
}

// Jeedom is a fake jMQTT plugin. It keeps equipment and commands the way
// the plugin does, runs one daemon per broker on the in-memory MQTT
// server, answers the JSON-RPC and MQTT APIs, and renders the plugin page.
//
// Equipment and brokers are addressed by the name of their broker
// equipment and their own name, as a user of the plugin page would.
type Jeedom struct {
	cfg     JeedomConfig
	version version.Jeedom
	logger  *slog.Logger

	mu      sync.Mutex
	nextEq  int
	nextCmd int
	nextObj int
	eqpts   []*eqpt
	daemons map[string]*daemon
	objects []object
	open    string
}

type eqpt struct {
	*model.Equipment
	lastComm time.Time
}

type object struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewJeedom creates a fake plugin without any broker.
func NewJeedom(cfg JeedomConfig) (*Jeedom, error) {
	if cfg.Version == "" {
		cfg.Version = DefaultJeedomVersion
	}
	v, err := version.Parse(cfg.Version)
	if err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Jeedom{
		cfg:     cfg,
		version: v,
		logger:  logger.With("component", "fake-jmqtt"),
		daemons: make(map[string]*daemon),
	}, nil
}

// Close stops every daemon.
func (j *Jeedom) Close() {
	j.mu.Lock()
	ds := make([]*daemon, 0, len(j.daemons))
	for _, d := range j.daemons {
		ds = append(ds, d)
	}
	j.mu.Unlock()
	for _, d := range ds {
		d.stop()
	}
}

// AddObject creates a Jeedom object and returns its id.
func (j *Jeedom) AddObject(name string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextObj++
	id := strconv.Itoa(j.nextObj)
	j.objects = append(j.objects, object{ID: id, Name: name})
	return id
}

// AddBroker creates a broker equipment with its status command and starts
// its daemon.
func (j *Jeedom) AddBroker(p BrokerParams) (string, error) {
	j.mu.Lock()
	if j.findBroker(p.Name) != nil {
		j.mu.Unlock()
		return "", fmt.Errorf("broker %s already exists", p.Name)
	}
	e := &eqpt{Equipment: model.NewBrokerEquipment(p.Name, p.Address, p.Port, p.ClientID)}
	j.assignID(e)
	e.Configuration.BrkID = e.ID
	j.eqpts = append(j.eqpts, e)

	statusTopic := topic.TruncateWildcard(e.LogicalID) + model.BrokerStatusCmd
	j.newCmd(e, model.CmdInfo, model.SubTypeString, model.BrokerStatusCmd, statusTopic, nil)

	d := newDaemon(j, e.ID, p.ClientID, p.MQTT)
	j.daemons[e.ID] = d
	j.mu.Unlock()

	d.start()
	return e.ID, nil
}

// DeleteBroker stops the broker daemon and deletes the broker with all its
// equipment.
func (j *Jeedom) DeleteBroker(name string) error {
	j.mu.Lock()
	b := j.findBroker(name)
	if b == nil {
		j.mu.Unlock()
		return fmt.Errorf("broker %s not found", name)
	}
	d := j.daemons[b.ID]
	delete(j.daemons, b.ID)
	j.eqpts = slices.DeleteFunc(j.eqpts, func(e *eqpt) bool {
		return e.Configuration.BrkID == b.ID
	})
	j.mu.Unlock()

	d.stop()
	return nil
}

// AddEquipment creates an equipment subscribed to t on a broker.
func (j *Jeedom) AddEquipment(broker, name, t string, enabled bool) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	b := j.findBroker(broker)
	if b == nil {
		return "", fmt.Errorf("broker %s not found", broker)
	}
	if j.find(b.ID, name) != nil {
		return "", fmt.Errorf("equipment %s/%s already exists", broker, name)
	}
	e := j.addEquipment(b.ID, name, t)
	e.SetEnabled(enabled)
	return e.ID, nil
}

func (j *Jeedom) addEquipment(brkID, name, t string) *eqpt {
	e := &eqpt{Equipment: model.NewEquipment(name, nil, false)}
	e.SetTopic(t)
	j.assignID(e)
	e.Configuration.BrkID = brkID
	j.eqpts = append(j.eqpts, e)
	j.logger.Debug("equipment created", "name", name, "id", e.ID, "topic", t)
	return e
}

// Equipment returns a copy of an equipment and its commands.
func (j *Jeedom) Equipment(broker, name string) (*model.Equipment, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := j.lookup(broker, name)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// LastCommunication returns the time an equipment last received a message.
func (j *Jeedom) LastCommunication(broker, name string) (time.Time, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := j.lookup(broker, name)
	if err != nil {
		return time.Time{}, err
	}
	return e.lastComm, nil
}

// SetTopic changes the subscription topic of an equipment and restarts the
// broker daemon.
func (j *Jeedom) SetTopic(broker, name, t string) error {
	j.mu.Lock()
	e, err := j.lookup(broker, name)
	if err != nil {
		j.mu.Unlock()
		return err
	}
	if e.IsBroker() {
		j.mu.Unlock()
		return fmt.Errorf("equipment %s/%s is a broker", broker, name)
	}
	e.SetTopic(t)
	d := j.daemons[e.Configuration.BrkID]
	j.mu.Unlock()

	d.restart()
	return nil
}

// SetEnabled enables or disables an equipment. On a broker it starts or
// stops the daemon.
func (j *Jeedom) SetEnabled(broker, name string, enabled bool) error {
	j.mu.Lock()
	e, err := j.lookup(broker, name)
	if err != nil {
		j.mu.Unlock()
		return err
	}
	changed := e.Enabled() != enabled
	e.SetEnabled(enabled)
	d := j.daemons[e.Configuration.BrkID]
	isBroker := e.IsBroker()
	j.mu.Unlock()

	if isBroker && changed {
		if enabled {
			d.start()
		} else {
			d.stop()
		}
	}
	return nil
}

// SetAutoAddCmd sets the automatic command creation flag.
func (j *Jeedom) SetAutoAddCmd(broker, name string, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	return j.SetConfiguration(broker, name, model.ConfAutoAddCmd, v)
}

// SetConfiguration sets a configuration key. On a broker, every key except
// auto_add_cmd restarts the daemon.
func (j *Jeedom) SetConfiguration(broker, name, key, value string) error {
	j.mu.Lock()
	e, err := j.lookup(broker, name)
	if err != nil {
		j.mu.Unlock()
		return err
	}
	if key == model.ConfTopic {
		j.mu.Unlock()
		return j.SetTopic(broker, name, value)
	}
	if err := e.Configuration.Set(key, value); err != nil {
		j.mu.Unlock()
		return err
	}
	d := j.daemons[e.Configuration.BrkID]
	restart := e.IsBroker() && key != model.ConfAutoAddCmd
	if e.IsBroker() && key == model.ConfMqttID {
		e.LogicalID = value + "/#"
		base := topic.TruncateWildcard(e.LogicalID)
		for _, c := range e.Cmds {
			if c.Name == model.BrokerStatusCmd || c.Name == model.BrokerAPICmd {
				c.Update(c.Name, base+c.Name, c.CurrentValue)
			}
		}
	}
	j.mu.Unlock()

	if restart {
		if key == model.ConfMqttID {
			d.setClientID(value)
		}
		d.restart()
	}
	return nil
}

// SetObject attaches an equipment to an object, or detaches it when id is
// empty.
func (j *Jeedom) SetObject(broker, name, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := j.lookup(broker, name)
	if err != nil {
		return err
	}
	if id == "" {
		e.ObjectID = nil
	} else {
		e.ObjectID = &id
	}
	return nil
}

// Rename renames an equipment.
func (j *Jeedom) Rename(broker, oldName, newName string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := j.lookup(broker, oldName)
	if err != nil {
		return err
	}
	e.Name = newName
	return nil
}

// Delete deletes an equipment.
func (j *Jeedom) Delete(broker, name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := j.lookup(broker, name)
	if err != nil {
		return err
	}
	if e.IsBroker() {
		return fmt.Errorf("equipment %s/%s is a broker", broker, name)
	}
	j.eqpts = slices.DeleteFunc(j.eqpts, func(o *eqpt) bool { return o == e })
	if j.open == e.ID {
		j.open = ""
	}
	return nil
}

// RemoveAllEquipments deletes every equipment that is not a broker.
func (j *Jeedom) RemoveAllEquipments() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.eqpts = slices.DeleteFunc(j.eqpts, func(e *eqpt) bool { return !e.IsBroker() })
	j.open = ""
}

// AddActionCmd creates an action command publishing request on t.
func (j *Jeedom) AddActionCmd(broker, eqptName, name, t, subtype, request string, retain bool) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := j.lookup(broker, eqptName)
	if err != nil {
		return "", err
	}
	if e.Command(name) != nil {
		return "", fmt.Errorf("command %s/%s/%s already exists", broker, eqptName, name)
	}
	c := j.newCmd(e, model.CmdAction, subtype, name, t, nil)
	*c.Configuration.Request = request
	if retain {
		*c.Configuration.Retain = "1"
	}
	return c.ID, nil
}

// AddJSONCommand creates an info command bound to the JSON path keys of
// the payload of parent, valued from its last payload.
func (j *Jeedom) AddJSONCommand(broker, eqptName, parent string, keys []string, name string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := j.lookup(broker, eqptName)
	if err != nil {
		return "", err
	}
	p := e.Command(parent)
	if p == nil {
		return "", fmt.Errorf("command %s/%s/%s not found", broker, eqptName, parent)
	}
	pid, _ := strconv.Atoi(p.ID)
	children := 0
	for _, c := range e.Cmds {
		if c.Configuration.JParent != nil && *c.Configuration.JParent == pid {
			children++
		}
	}

	t := topic.JSONPath(p.Configuration.Topic, keys...)
	var value any
	for _, leaf := range topic.Flatten(p.Configuration.Topic, []byte(p.CurrentValue.String())) {
		if leaf.Topic == t {
			value = leaf.Value
		}
	}
	c := j.newCmd(e, model.CmdInfo, model.SubTypeString, name, t, value)
	c.SetJSONParent(pid, children)
	return c.ID, nil
}

// ReparentCommand moves a JSON command under another parent command.
func (j *Jeedom) ReparentCommand(broker, eqptName, name, parent string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := j.lookup(broker, eqptName)
	if err != nil {
		return err
	}
	c, p := e.Command(name), e.Command(parent)
	if c == nil || p == nil {
		return fmt.Errorf("command %s or %s not found on %s/%s", name, parent, broker, eqptName)
	}
	pid, _ := strconv.Atoi(p.ID)
	children := 0
	for _, o := range e.Cmds {
		if o != c && o.Configuration.JParent != nil && *o.Configuration.JParent == pid {
			children++
		}
	}
	c.SetJSONParent(pid, children)
	return nil
}

// DeleteCommand deletes a command and renumbers the others.
func (j *Jeedom) DeleteCommand(broker, eqptName, name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := j.lookup(broker, eqptName)
	if err != nil {
		return err
	}
	i := e.CommandIndex(name)
	if i < 0 {
		return fmt.Errorf("command %s/%s/%s not found", broker, eqptName, name)
	}
	e.Cmds = slices.Delete(e.Cmds, i, i+1)
	renumber(e.Cmds)
	return nil
}

// MoveCommand moves a command to position to and renumbers all commands.
func (j *Jeedom) MoveCommand(broker, eqptName, name string, to int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := j.lookup(broker, eqptName)
	if err != nil {
		return err
	}
	i := e.CommandIndex(name)
	if i < 0 || to < 0 || to >= len(e.Cmds) {
		return fmt.Errorf("cannot move command %s/%s/%s to %d", broker, eqptName, name, to)
	}
	c := e.Cmds[i]
	e.Cmds = slices.Insert(slices.Delete(e.Cmds, i, i+1), to, c)
	renumber(e.Cmds)
	return nil
}

// SetRetain sets the retain flag of an action command. Clearing it also
// clears the message the broker retained for the command topic.
func (j *Jeedom) SetRetain(broker, eqptName, name string, retain bool) error {
	j.mu.Lock()
	e, err := j.lookup(broker, eqptName)
	if err != nil {
		j.mu.Unlock()
		return err
	}
	c := e.Command(name)
	if c == nil || c.Type != model.CmdAction {
		j.mu.Unlock()
		return fmt.Errorf("action command %s/%s/%s not found", broker, eqptName, name)
	}
	was := *c.Configuration.Retain == "1"
	*c.Configuration.Retain = "0"
	if retain {
		*c.Configuration.Retain = "1"
	}
	t := c.Configuration.Topic
	d := j.daemons[e.Configuration.BrkID]
	j.mu.Unlock()

	if was && !retain {
		return d.publish(t, nil, true)
	}
	return nil
}

// TestCommand runs an action command as its test button does.
func (j *Jeedom) TestCommand(broker, eqptName, name string) error {
	j.mu.Lock()
	e, err := j.lookup(broker, eqptName)
	if err != nil {
		j.mu.Unlock()
		return err
	}
	c := e.Command(name)
	if c == nil {
		j.mu.Unlock()
		return fmt.Errorf("command %s/%s/%s not found", broker, eqptName, name)
	}
	id := c.ID
	j.mu.Unlock()

	if _, rpcErr := j.execCmd(id, nil); rpcErr != nil {
		return fmt.Errorf("test command %s: %s", name, rpcErr.Message)
	}
	return nil
}

// ShowEquipment opens the equipment page, whose command table the rendered
// page then contains.
func (j *Jeedom) ShowEquipment(broker, name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := j.lookup(broker, name)
	if err != nil {
		return err
	}
	j.open = e.ID
	return nil
}

// SetReachable points a broker daemon at an unreachable server or back at
// its server.
func (j *Jeedom) SetReachable(broker string, reachable bool) error {
	d, err := j.daemonOf(broker)
	if err != nil {
		return err
	}
	d.setReachable(reachable)
	return nil
}

// SetIncludeMode turns the automatic equipment inclusion of a broker on or
// off.
func (j *Jeedom) SetIncludeMode(broker string, on bool) error {
	d, err := j.daemonOf(broker)
	if err != nil {
		return err
	}
	d.setInclude(on)
	return nil
}

// DaemonState returns the state of a broker daemon.
func (j *Jeedom) DaemonState(broker string) (model.DaemonState, error) {
	d, err := j.daemonOf(broker)
	if err != nil {
		return "", err
	}
	return d.currentState(), nil
}

func (j *Jeedom) daemonOf(broker string) (*daemon, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	b := j.findBroker(broker)
	if b == nil {
		return nil, fmt.Errorf("broker %s not found", broker)
	}
	return j.daemons[b.ID], nil
}

// Callers hold j.mu below.

func (j *Jeedom) assignID(e *eqpt) {
	j.nextEq++
	e.ID = strconv.Itoa(j.nextEq)
	e.Order = j.version.DefaultEquipmentOrder()
}

func (j *Jeedom) newCmd(e *eqpt, typ model.CmdType, subtype, name, t string, value any) *model.Command {
	c := model.NewCommand(name, t, typ, subtype, value)
	j.nextCmd++
	c.ID = strconv.Itoa(j.nextCmd)
	c.EqLogicID = e.ID
	if typ == model.CmdAction {
		c.Order = strconv.Itoa(len(e.Cmds))
	} else {
		c.Order = "0"
	}
	e.Cmds = append(e.Cmds, c)
	model.SortCommands(e.Cmds)
	return c
}

func (j *Jeedom) findBroker(name string) *eqpt {
	for _, e := range j.eqpts {
		if e.IsBroker() && e.Name == name {
			return e
		}
	}
	return nil
}

func (j *Jeedom) find(brkID, name string) *eqpt {
	for _, e := range j.eqpts {
		if e.Configuration.BrkID == brkID && e.Name == name {
			return e
		}
	}
	return nil
}

func (j *Jeedom) byID(id string) *eqpt {
	for _, e := range j.eqpts {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (j *Jeedom) lookup(broker, name string) (*eqpt, error) {
	b := j.findBroker(broker)
	if b == nil {
		return nil, fmt.Errorf("broker %s not found", broker)
	}
	e := j.find(b.ID, name)
	if e == nil {
		return nil, fmt.Errorf("equipment %s/%s not found", broker, name)
	}
	return e, nil
}

func (j *Jeedom) cmdByID(id string) (*eqpt, *model.Command) {
	for _, e := range j.eqpts {
		for _, c := range e.Cmds {
			if c.ID == id {
				return e, c
			}
		}
	}
	return nil, nil
}

func renumber(cmds []*model.Command) {
	for i, c := range cmds {
		c.Order = strconv.Itoa(i)
	}
}
