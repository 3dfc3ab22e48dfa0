package transport

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Message is a received MQTT message.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
	Received time.Time
}

// FromPaho copies a paho message.
func FromPaho(m paho.Message) Message {
	return Message{
		Topic:    m.Topic(),
		Payload:  append([]byte(nil), m.Payload()...),
		Retained: m.Retained(),
		Received: time.Now(),
	}
}
