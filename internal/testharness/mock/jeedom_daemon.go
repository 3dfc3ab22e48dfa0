package mock

import (
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/domotruc/jmqtt-test/pkg/model"
	"github.com/domotruc/jmqtt-test/pkg/topic"
	"github.com/domotruc/jmqtt-test/pkg/transport"
)

// daemon is the MQTT connection of one broker of the fake plugin.
type daemon struct {
	j     *Jeedom
	brkID string
	mqtt  *Broker

	mu        sync.Mutex
	clientID  string
	conn      *Client
	state     model.DaemonState
	enabled   bool
	reachable bool
	include   bool
}

func newDaemon(j *Jeedom, brkID, clientID string, mqtt *Broker) *daemon {
	return &daemon{
		j:         j,
		brkID:     brkID,
		mqtt:      mqtt,
		clientID:  clientID,
		state:     model.DaemonUnchecked,
		enabled:   true,
		reachable: true,
	}
}

func (d *daemon) statusTopic() string {
	return d.clientID + "/" + model.BrokerStatusCmd
}

func (d *daemon) currentState() model.DaemonState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// start connects the daemon, subscribes to every topic and publishes the
// online status.
func (d *daemon) start() {
	d.mu.Lock()
	d.enabled = true
	if d.conn != nil {
		d.mu.Unlock()
		return
	}
	if !d.reachable || d.mqtt == nil {
		d.state = model.DaemonPOK
		d.mu.Unlock()
		return
	}
	c := d.mqtt.NewClient(d.clientID)
	if err := c.Connect().Error(); err != nil {
		d.state = model.DaemonPOK
		d.mu.Unlock()
		d.j.logger.Warn("daemon connection failed", "clientId", d.clientID, "error", err)
		return
	}
	d.conn = c
	d.state = model.DaemonOK
	status := d.statusTopic()
	d.mu.Unlock()

	c.Subscribe("#", 0, d.onMessage)
	c.Publish(status, 0, true, model.StatusOnline)
}

// stop publishes the offline status and disconnects.
func (d *daemon) stop() {
	d.mu.Lock()
	d.enabled = false
	d.state = model.DaemonNOK
	d.mu.Unlock()
	d.disconnect()
}

// disconnect publishes the offline status, as the last will of the daemon
// connection would, and closes the connection.
func (d *daemon) disconnect() {
	d.mu.Lock()
	c := d.conn
	d.conn = nil
	status := d.statusTopic()
	d.mu.Unlock()
	if c == nil {
		return
	}
	c.Publish(status, 0, true, model.StatusOffline)
	c.Disconnect(0)
}

func (d *daemon) restart() {
	d.mu.Lock()
	enabled := d.enabled
	d.mu.Unlock()
	if !enabled {
		return
	}
	d.disconnect()
	d.start()
}

func (d *daemon) setClientID(id string) {
	d.disconnect()
	d.mu.Lock()
	d.clientID = id
	d.mu.Unlock()
}

func (d *daemon) setReachable(reachable bool) {
	d.mu.Lock()
	d.reachable = reachable
	enabled := d.enabled
	d.mu.Unlock()
	if !enabled {
		return
	}
	if reachable {
		d.start()
		return
	}
	d.disconnect()
	d.mu.Lock()
	d.state = model.DaemonPOK
	d.mu.Unlock()
}

func (d *daemon) setInclude(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.include = on
}

func (d *daemon) publish(t string, payload []byte, retained bool) error {
	d.mu.Lock()
	c := d.conn
	d.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.Publish(t, 0, retained, payload).Error()
}

func (d *daemon) onMessage(_ paho.Client, m paho.Message) {
	d.j.receive(d, transport.FromPaho(m))
}

// receive dispatches a message seen by the daemon of a broker to the
// equipment subscribed to it.
func (j *Jeedom) receive(d *daemon, msg transport.Message) {
	j.mu.Lock()
	b := j.byID(d.brkID)
	if b == nil {
		j.mu.Unlock()
		return
	}
	now := j.cfg.Now()
	base := topic.TruncateWildcard(b.LogicalID)

	if msg.Topic == base+model.BrokerStatusCmd {
		if c := b.Command(model.BrokerStatusCmd); c != nil {
			c.Update(c.Name, msg.Topic, string(msg.Payload))
		}
		j.mu.Unlock()
		return
	}

	if msg.Topic == base+model.BrokerAPICmd && b.Configuration.API != nil && *b.Configuration.API == "enable" {
		if b.AutoAddCmd() && b.Command(model.BrokerAPICmd) == nil {
			j.newCmd(b, model.CmdInfo, model.SubTypeString, model.BrokerAPICmd, msg.Topic, nil)
		}
		b.lastComm = now
		j.mu.Unlock()

		// The request is answered before it is stored.
		j.answer(d, msg.Payload)

		j.mu.Lock()
		if b = j.byID(d.brkID); b != nil {
			if c := b.Command(model.BrokerAPICmd); c != nil {
				c.Update(c.Name, msg.Topic, string(msg.Payload))
			}
		}
		j.mu.Unlock()
		return
	}

	matched := false
	for _, e := range j.eqpts {
		if e.Configuration.BrkID != d.brkID || !e.Enabled() || !topic.Match(e.LogicalID, msg.Topic) {
			continue
		}
		matched = true
		j.store(e, msg, now)
	}

	d.mu.Lock()
	include, clientID := d.include, d.clientID
	d.mu.Unlock()
	if !matched && include && j.includes(b, msg.Topic, clientID) {
		first, _, _ := strings.Cut(msg.Topic, "/")
		e := j.addEquipment(d.brkID, first, first+"/#")
		j.store(e, msg, now)
	}
	j.mu.Unlock()
}

func (j *Jeedom) includes(b *eqpt, t, clientID string) bool {
	first, _, _ := strings.Cut(t, "/")
	if first == "" || first == clientID {
		return false
	}
	inc := "#"
	if b.Configuration.MqttIncTopic != nil {
		inc = *b.Configuration.MqttIncTopic
	}
	return topic.Match(inc, t)
}

// store updates the command bound to the message topic, creating it when
// the equipment adds commands automatically, and the JSON commands bound
// to the paths of its payload. Callers hold j.mu.
func (j *Jeedom) store(e *eqpt, msg transport.Message, now time.Time) {
	e.lastComm = now
	payload := string(msg.Payload)

	c := infoByTopic(e.Cmds, msg.Topic)
	if c == nil {
		name := topic.DeriveName(e.LogicalID, msg.Topic)
		if c = e.Command(name); c == nil && e.AutoAddCmd() {
			c = j.newCmd(e, model.CmdInfo, model.SubTypeString, name, msg.Topic, payload)
		}
	}
	if c != nil && c.Type == model.CmdInfo {
		c.Update(c.Name, msg.Topic, payload)
	}

	for _, leaf := range topic.Flatten(msg.Topic, msg.Payload)[1:] {
		if jc := infoByTopic(e.Cmds, leaf.Topic); jc != nil {
			jc.Update(jc.Name, leaf.Topic, leaf.Value)
		}
	}
}

// infoByTopic ignores action commands: they publish on their topic but are
// never valued from it.
func infoByTopic(cmds []*model.Command, t string) *model.Command {
	for _, c := range cmds {
		if c.Type == model.CmdInfo && c.Configuration.Topic == t {
			return c
		}
	}
	return nil
}
