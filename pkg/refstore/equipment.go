package refstore

import (
	"fmt"

	"github.com/domotruc/jmqtt-test/pkg/model"
)

// Parameters are the top level equipment fields a test may set. Nil fields
// are left untouched.
type Parameters struct {
	IsEnable  *bool
	IsVisible *bool
	Topic     *string
	Order     *string

	// ObjectID sets the object membership. A pointer to nil clears it.
	ObjectID **string
}

// Equipment returns the named equipment of a broker. The broker
// pseudo-equipment is found under the broker equipment name.
func (s *Store) Equipment(broker, name string) (*model.Equipment, error) {
	b, err := s.Broker(broker)
	if err != nil {
		return nil, err
	}
	e := b.Find(name)
	if e == nil {
		return nil, fmt.Errorf("equipment %s/%s: %w", broker, name, ErrNotFound)
	}
	return e, nil
}

// Exists reports whether the named equipment exists on the broker.
func (s *Store) Exists(broker, name string) bool {
	_, err := s.Equipment(broker, name)
	return err == nil
}

// AddEquipment creates an equipment on a broker and keeps the equipment
// list in the plugin's order. With autoTopic the subscription topic is
// name + "/#".
func (s *Store) AddEquipment(broker, name string, enabled bool, objectID *string, autoTopic bool) (*model.Equipment, error) {
	b, err := s.Broker(broker)
	if err != nil {
		return nil, err
	}
	if b.Find(name) != nil {
		return nil, fmt.Errorf("equipment %s/%s: %w", broker, name, ErrExists)
	}

	e := model.NewEquipment(name, objectID, autoTopic)
	e.Order = s.cfg.Version.DefaultEquipmentOrder()
	e.SetEnabled(enabled)
	b.Insert(e)
	s.logger.Debug("equipment added", "broker", broker, "name", name, "topic", e.LogicalID)
	return e, nil
}

// DeleteEquipment splices the named equipment out of its broker list. The
// broker pseudo-equipment cannot be deleted this way; use DeleteBroker.
func (s *Store) DeleteEquipment(broker, name string) error {
	b, err := s.Broker(broker)
	if err != nil {
		return err
	}
	i := b.Index(name)
	if i < 0 {
		return fmt.Errorf("equipment %s/%s: %w", broker, name, ErrNotFound)
	}
	if i == 0 {
		return fmt.Errorf("equipment %s/%s is the broker equipment", broker, name)
	}
	return b.Remove(i)
}

// RenameEquipment renames an equipment and restores the list order.
func (s *Store) RenameEquipment(broker, oldName, newName string) error {
	b, err := s.Broker(broker)
	if err != nil {
		return err
	}
	e := b.Find(oldName)
	if e == nil {
		return fmt.Errorf("equipment %s/%s: %w", broker, oldName, ErrNotFound)
	}
	if oldName != newName && b.Find(newName) != nil {
		return fmt.Errorf("equipment %s/%s: %w", broker, newName, ErrExists)
	}
	e.Name = newName
	model.SortEquipments(b.Eqpts)
	if e.IsBroker() {
		s.resort()
	}
	return nil
}

// SetParameters applies p to the named equipment. Enabling or disabling a
// broker equipment also moves its daemon state.
func (s *Store) SetParameters(broker, name string, p Parameters) error {
	e, err := s.Equipment(broker, name)
	if err != nil {
		return err
	}
	if p.IsEnable != nil {
		e.SetEnabled(*p.IsEnable)
		if e.IsBroker() {
			ev := model.EventDisable
			if *p.IsEnable {
				ev = model.EventEnable
			}
			if _, _, err := s.ApplyDaemonEvent(broker, ev); err != nil {
				return err
			}
		}
	}
	if p.IsVisible != nil {
		if *p.IsVisible {
			e.IsVisible = "1"
		} else {
			e.IsVisible = "0"
		}
	}
	if p.Topic != nil {
		if e.IsBroker() {
			return fmt.Errorf("equipment %s/%s: broker topic is derived from its client id", broker, name)
		}
		e.SetTopic(*p.Topic)
	}
	if p.Order != nil {
		e.Order = *p.Order
	}
	if p.ObjectID != nil {
		e.ObjectID = *p.ObjectID
	}
	return nil
}

// SetEnabled enables or disables an equipment.
func (s *Store) SetEnabled(broker, name string, enabled bool) error {
	return s.SetParameters(broker, name, Parameters{IsEnable: &enabled})
}

// SetTopic sets the subscription topic of an equipment.
func (s *Store) SetTopic(broker, name, t string) error {
	return s.SetParameters(broker, name, Parameters{Topic: &t})
}

// SetConfiguration sets one configuration key of an equipment. Changing the
// MQTT client id of a broker moves its status and api topics.
func (s *Store) SetConfiguration(broker, name, key, value string) error {
	e, err := s.Equipment(broker, name)
	if err != nil {
		return err
	}
	if key == model.ConfTopic {
		if e.IsBroker() {
			return fmt.Errorf("equipment %s/%s: broker has no topic configuration", broker, name)
		}
		e.SetTopic(value)
		return nil
	}
	if err := e.Configuration.Set(key, value); err != nil {
		return fmt.Errorf("equipment %s/%s: %w", broker, name, err)
	}
	if e.IsBroker() && key == model.ConfMqttID {
		b, _ := s.Broker(broker)
		b.ClientID = value
		e.LogicalID = value + "/#"
		for _, c := range e.Cmds {
			switch c.Name {
			case model.BrokerStatusCmd:
				c.Update(c.Name, b.StatusTopic(), c.CurrentValue)
			case model.BrokerAPICmd:
				c.Update(c.Name, b.APITopic(), c.CurrentValue)
			}
		}
	}
	return nil
}

// SetAutoAddCmd sets the automatic command creation flag.
func (s *Store) SetAutoAddCmd(broker, name string, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	return s.SetConfiguration(broker, name, model.ConfAutoAddCmd, v)
}

// LogicalID returns the subscription topic of an equipment.
func (s *Store) LogicalID(broker, name string) (string, error) {
	e, err := s.Equipment(broker, name)
	if err != nil {
		return "", err
	}
	return e.LogicalID, nil
}
