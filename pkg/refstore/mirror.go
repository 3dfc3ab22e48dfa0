package refstore

import (
	"github.com/domotruc/jmqtt-test/pkg/model"
)

// HarnessClientID returns the MQTT client id of the harness API client.
func (s *Store) HarnessClientID() string {
	return s.cfg.HarnessClientID
}

// MirrorRequest records an API request published on the broker api topic.
//
// The broker equipment subscribes to its own api topic, so every request
// lands in its "api" info command. The plugin stores the request before it
// answers, and the request that carries the reading is the one being
// answered, so the value observed by that reading is the previous request.
// The first call creates the command with a null value.
func (s *Store) MirrorRequest(broker string, payload []byte) error {
	b, err := s.Broker(broker)
	if err != nil {
		return err
	}
	prev, seen := s.prevRequest[broker]
	s.prevRequest[broker] = append([]byte(nil), payload...)

	e := b.Equipment()
	if !e.AutoAddCmd() && e.Command(model.BrokerAPICmd) == nil {
		return nil
	}
	var v any
	if seen {
		v = string(prev)
	}
	_, err = s.SetCmdInfo(broker, e.Name, b.APITopic(), v, model.BrokerAPICmd)
	return err
}

// MirrorResponse records an API response received on the harness response
// topic. When the broker has an equipment named after the harness client
// id, its command for t holds the previous response, for the same reason as
// in MirrorRequest.
func (s *Store) MirrorResponse(broker, t string, payload []byte) error {
	b, err := s.Broker(broker)
	if err != nil {
		return err
	}
	prev, seen := s.prevResponse[broker]
	s.prevResponse[broker] = append([]byte(nil), payload...)

	e := b.Find(s.cfg.HarnessClientID)
	if e == nil {
		return nil
	}
	var v any
	if seen {
		v = string(prev)
	}
	_, err = s.SetCmdInfo(broker, e.Name, t, v, "")
	return err
}

// SettleMirrors makes the mirrored commands hold the latest request and
// response instead of the previous ones. Readings through a channel other
// than the MQTT API see the plugin after it stored the last exchange, so
// call it before reconciling through such a channel.
func (s *Store) SettleMirrors() error {
	for _, b := range s.brokers {
		if req, ok := s.prevRequest[b.Name]; ok {
			if c := b.Equipment().Command(model.BrokerAPICmd); c != nil {
				c.Update(c.Name, c.Configuration.Topic, string(req))
			}
		}
		resp, ok := s.prevResponse[b.Name]
		if !ok {
			continue
		}
		if e := b.Find(s.cfg.HarnessClientID); e != nil {
			t := s.cfg.HarnessClientID + "/req"
			if c := model.CommandByTopic(e.Cmds, t); c != nil {
				c.Update(c.Name, t, string(resp))
			}
		}
	}
	return nil
}
