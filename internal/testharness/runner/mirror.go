package runner

import (
	"strings"

	"github.com/domotruc/jmqtt-test/pkg/model"
	"github.com/domotruc/jmqtt-test/pkg/refstore"
	"github.com/domotruc/jmqtt-test/pkg/topic"
)

// mirrorMessage records in the store what the plugin does when the daemon
// of broker receives msg: every enabled equipment subscribed to the topic
// values its info command for it, creating the command when it adds
// commands automatically, then the JSON commands bound to paths of the
// payload. With inclusion on, a message no equipment takes creates one
// named after the first topic level.
func (r *Runner) mirrorMessage(broker string, msg refstore.Message) error {
	b, err := r.store.Broker(broker)
	if err != nil {
		return err
	}

	switch msg.Topic {
	case b.StatusTopic():
		if c := b.Equipment().Command(model.BrokerStatusCmd); c != nil {
			c.Update(c.Name, msg.Topic, msg.Payload)
		}
		return nil
	case b.APITopic():
		if api := b.Equipment().Configuration.API; api != nil && *api == "enable" {
			return r.store.MirrorRequest(broker, []byte(msg.Payload))
		}
	}

	matched := false
	for _, e := range b.Eqpts[1:] {
		if !e.Enabled() || !topic.Match(e.LogicalID, msg.Topic) {
			continue
		}
		matched = true
		if err := r.receive(broker, e, msg); err != nil {
			return err
		}
	}
	if matched || !r.include[broker] || !includes(b, msg.Topic) {
		return nil
	}

	first, _, _ := strings.Cut(msg.Topic, "/")
	e, err := r.store.AddEquipment(broker, first, true, nil, true)
	if err != nil {
		return err
	}
	r.logger.Debug("equipment included", "broker", broker, "name", first, "topic", msg.Topic)
	return r.receive(broker, e, msg)
}

func (r *Runner) receive(broker string, e *model.Equipment, msg refstore.Message) error {
	c := infoByTopic(e.Cmds, msg.Topic)
	if c == nil {
		name := topic.DeriveName(e.LogicalID, msg.Topic)
		c = e.Command(name)
		if c == nil && e.AutoAddCmd() {
			if _, err := r.store.SetCmdInfo(broker, e.Name, msg.Topic, msg.Payload, name); err != nil {
				return err
			}
		}
	}
	if c != nil && c.Type == model.CmdInfo {
		c.Update(c.Name, msg.Topic, msg.Payload)
	}

	for _, leaf := range topic.Flatten(msg.Topic, []byte(msg.Payload))[1:] {
		if jc := infoByTopic(e.Cmds, leaf.Topic); jc != nil {
			jc.Update(jc.Name, leaf.Topic, leaf.Value)
		}
	}
	return nil
}

// includes reports whether inclusion takes a topic: its first level is
// neither empty nor the daemon client id, and it matches the inclusion
// filter of the broker.
func includes(b *model.Broker, t string) bool {
	first, _, _ := strings.Cut(t, "/")
	if first == "" || first == b.ClientID {
		return false
	}
	filter := "#"
	if inc := b.Equipment().Configuration.MqttIncTopic; inc != nil && *inc != "" {
		filter = *inc
	}
	return topic.Match(filter, t)
}

// infoByTopic skips action commands: they publish on their topic but never
// take a value from it.
func infoByTopic(cmds []*model.Command, t string) *model.Command {
	for _, c := range cmds {
		if c.Type == model.CmdInfo && c.Configuration.Topic == t {
			return c
		}
	}
	return nil
}
