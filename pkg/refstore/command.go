package refstore

import (
	"fmt"
	"strconv"

	"github.com/domotruc/jmqtt-test/pkg/model"
	"github.com/domotruc/jmqtt-test/pkg/topic"
)

// Message is an MQTT message as published or received by a test.
type Message struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// SetCommand updates the named command of an equipment, creating it when
// missing. An empty name is derived from the equipment topic and cmdTopic
// the way the plugin does.
//
// A new action command gets the number of existing commands as order, a new
// info command gets "0". The command list stays sorted by order then name.
func (s *Store) SetCommand(broker, eqpt string, typ model.CmdType, subtype, cmdTopic string, value any, name string) (*model.Command, error) {
	e, err := s.Equipment(broker, eqpt)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = topic.DeriveName(e.LogicalID, cmdTopic)
	}

	c := e.Command(name)
	if c == nil {
		c = model.NewCommand(name, cmdTopic, typ, subtype, value)
		if typ == model.CmdAction {
			c.Order = strconv.Itoa(len(e.Cmds))
		} else {
			c.Order = "0"
		}
		c.EqLogicID = e.ID
		e.Cmds = append(e.Cmds, c)
		model.SortCommands(e.Cmds)
		s.logger.Debug("command added", "broker", broker, "eqpt", eqpt, "name", name, "type", typ, "order", c.Order)
	}

	c.Update(name, cmdTopic, value)
	return c, nil
}

// SetCmdInfo updates or creates an info command.
func (s *Store) SetCmdInfo(broker, eqpt, cmdTopic string, value any, name string) (*model.Command, error) {
	return s.SetCommand(broker, eqpt, model.CmdInfo, model.SubTypeString, cmdTopic, value, name)
}

// SetCmdAction updates or creates an action command.
func (s *Store) SetCmdAction(broker, eqpt, cmdTopic, name, subtype string, value any) (*model.Command, error) {
	return s.SetCommand(broker, eqpt, model.CmdAction, subtype, cmdTopic, value, name)
}

// SetCmdRequest sets the request template and the retain flag of an
// action command.
func (s *Store) SetCmdRequest(broker, eqpt, name, request string, retain bool) error {
	c, err := s.Command(broker, eqpt, name)
	if err != nil {
		return err
	}
	if c.Type != model.CmdAction {
		return fmt.Errorf("command %s/%s/%s is not an action", broker, eqpt, name)
	}
	flag := "0"
	if retain {
		flag = "1"
	}
	c.Configuration.Request = &request
	c.Configuration.Retain = &flag
	return nil
}

// SetCmdFromMsg mirrors the reception of msg by an equipment: its info
// command for msg.Topic takes the payload as value.
func (s *Store) SetCmdFromMsg(broker, eqpt string, msg Message, name string) (*model.Command, error) {
	return s.SetCmdInfo(broker, eqpt, msg.Topic, msg.Payload, name)
}

// SetCmdFromJSONMsg mirrors the reception of a JSON message: the command
// for msg.Topic takes the raw payload, and every existing command bound to
// a JSON sub-topic of the payload takes the value at that path. Sub-topic
// commands are never created here; the plugin only creates them on demand.
func (s *Store) SetCmdFromJSONMsg(broker, eqpt string, msg Message) (*model.Command, error) {
	root, err := s.SetCmdInfo(broker, eqpt, msg.Topic, msg.Payload, "")
	if err != nil {
		return nil, err
	}
	e, _ := s.Equipment(broker, eqpt)

	for _, leaf := range topic.Flatten(msg.Topic, []byte(msg.Payload))[1:] {
		c := model.CommandByTopic(e.Cmds, leaf.Topic)
		if c == nil {
			continue
		}
		c.Update(c.Name, c.Configuration.Topic, leaf.Value)
	}

	// Children absent from this payload keep their value.
	return root, nil
}

// AddJSONCommand creates an info command bound to the JSON path keys of the
// parent command payload, as the JSON view of the plugin does.
func (s *Store) AddJSONCommand(broker, eqpt, parent string, keys []string, value any, name string) (*model.Command, error) {
	e, err := s.Equipment(broker, eqpt)
	if err != nil {
		return nil, err
	}
	p := e.Command(parent)
	if p == nil {
		return nil, fmt.Errorf("command %s/%s/%s: %w", broker, eqpt, parent, ErrNotFound)
	}
	pid, err := strconv.Atoi(p.ID)
	if err != nil {
		return nil, fmt.Errorf("command %s/%s/%s: parent id %q not resolved", broker, eqpt, parent, p.ID)
	}

	children := 0
	for _, c := range e.Cmds {
		if c.Configuration.JParent != nil && *c.Configuration.JParent == pid {
			children++
		}
	}

	c, err := s.SetCmdInfo(broker, eqpt, topic.JSONPath(p.Configuration.Topic, keys...), value, name)
	if err != nil {
		return nil, err
	}
	c.SetJSONParent(pid, children)
	return c, nil
}

// ReparentCommand moves a JSON command under another parent command, or
// detaches it when parent is empty.
func (s *Store) ReparentCommand(broker, eqpt, name, parent string) error {
	e, err := s.Equipment(broker, eqpt)
	if err != nil {
		return err
	}
	c := e.Command(name)
	if c == nil {
		return fmt.Errorf("command %s/%s/%s: %w", broker, eqpt, name, ErrNotFound)
	}
	if parent == "" {
		c.SetJSONParent(model.NoJSONParent, model.NoJSONParent)
		return nil
	}
	p := e.Command(parent)
	if p == nil {
		return fmt.Errorf("command %s/%s/%s: %w", broker, eqpt, parent, ErrNotFound)
	}
	pid, err := strconv.Atoi(p.ID)
	if err != nil {
		return fmt.Errorf("command %s/%s/%s: parent id %q not resolved", broker, eqpt, parent, p.ID)
	}
	children := 0
	for _, o := range e.Cmds {
		if o != c && o.Configuration.JParent != nil && *o.Configuration.JParent == pid {
			children++
		}
	}
	c.SetJSONParent(pid, children)
	return nil
}

// Command returns the named command of an equipment.
func (s *Store) Command(broker, eqpt, name string) (*model.Command, error) {
	e, err := s.Equipment(broker, eqpt)
	if err != nil {
		return nil, err
	}
	c := e.Command(name)
	if c == nil {
		return nil, fmt.Errorf("command %s/%s/%s: %w", broker, eqpt, name, ErrNotFound)
	}
	return c, nil
}

// DeleteCommand removes the named command and renumbers the remaining
// commands 0..n-1, as saving the equipment page does.
func (s *Store) DeleteCommand(broker, eqpt, name string) error {
	e, err := s.Equipment(broker, eqpt)
	if err != nil {
		return err
	}
	i := e.CommandIndex(name)
	if i < 0 {
		return fmt.Errorf("command %s/%s/%s: %w", broker, eqpt, name, ErrNotFound)
	}
	e.Cmds = append(e.Cmds[:i:i], e.Cmds[i+1:]...)
	applyOrders(e.Cmds, Sequential())
	return nil
}

// MoveCommand moves the named command to position to, as a drag and drop
// on the command table does, and renumbers all commands 0..n-1.
func (s *Store) MoveCommand(broker, eqpt, name string, to int) error {
	e, err := s.Equipment(broker, eqpt)
	if err != nil {
		return err
	}
	i := e.CommandIndex(name)
	if i < 0 {
		return fmt.Errorf("command %s/%s/%s: %w", broker, eqpt, name, ErrNotFound)
	}
	if to < 0 || to >= len(e.Cmds) {
		return fmt.Errorf("command %s/%s/%s: position %d out of range [0,%d)", broker, eqpt, name, to, len(e.Cmds))
	}

	c := e.Cmds[i]
	rest := append(e.Cmds[:i:i], e.Cmds[i+1:]...)
	moved := make([]*model.Command, 0, len(e.Cmds))
	moved = append(moved, rest[:to]...)
	moved = append(moved, c)
	moved = append(moved, rest[to:]...)
	e.Cmds = moved
	applyOrders(e.Cmds, Sequential())
	return nil
}

// SetCmdOrders assigns the order of every command of an equipment from src
// and sorts them again.
func (s *Store) SetCmdOrders(broker, eqpt string, src OrderSource) error {
	e, err := s.Equipment(broker, eqpt)
	if err != nil {
		return err
	}
	if err := applyOrders(e.Cmds, src); err != nil {
		return fmt.Errorf("equipment %s/%s: %w", broker, eqpt, err)
	}
	model.SortCommands(e.Cmds)
	return nil
}
