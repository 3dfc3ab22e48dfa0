package log

import (
	"time"
)

// Event represents a protocol log event captured on any channel.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the client connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Channel that captured the event.
	Channel Channel `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Broker is the logical broker name, for MQTT channels.
	Broker string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (URL or host:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Channel indicates which harness client captured the event.
type Channel uint8

const (
	// ChannelJSONRPC is the HTTP JSON-RPC API client.
	ChannelJSONRPC Channel = 0
	// ChannelMQTTAPI is the MQTT request/response API client.
	ChannelMQTTAPI Channel = 1
	// ChannelCapture is an MQTT capture listener.
	ChannelCapture Channel = 2
	// ChannelUI is the browser driver.
	ChannelUI Channel = 3
)

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelJSONRPC:
		return "JSONRPC"
	case ChannelMQTTAPI:
		return "MQTTAPI"
	case ChannelCapture:
		return "CAPTURE"
	case ChannelUI:
		return "UI"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent captures a request, a response or a plain MQTT message.
type MessageEvent struct {
	// Type distinguishes request/response/publication.
	Type MessageType `cbor:"1,keyasint"`

	// RequestID correlates request/response pairs (empty for publications).
	RequestID string `cbor:"2,keyasint,omitempty"`

	// Method is the API method of a request or response.
	Method string `cbor:"3,keyasint,omitempty"`

	// Topic is the MQTT topic the message travelled on.
	Topic string `cbor:"4,keyasint,omitempty"`

	// Retained is set for retained MQTT messages.
	Retained bool `cbor:"5,keyasint,omitempty"`

	// Payload is the raw message body.
	Payload []byte `cbor:"6,keyasint,omitempty"`

	// Duration is the round-trip time of a request (response only).
	Duration *time.Duration `cbor:"7,keyasint,omitempty"`
}

// MessageType distinguishes request/response/publication.
type MessageType uint8

const (
	// MessageTypeRequest indicates an API request.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse indicates an API response.
	MessageTypeResponse MessageType = 1
	// MessageTypePublication indicates a plain MQTT message.
	MessageTypePublication MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypePublication:
		return "PUBLICATION"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection and daemon lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a client connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityDaemon indicates an expected broker daemon state change.
	StateEntityDaemon StateEntity = 1
	// StateEntitySubscription indicates a subscription state change.
	StateEntitySubscription StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityDaemon:
		return "DAEMON"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors on any channel.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Code is the error envelope code (if applicable).
	Code *int `cbor:"2,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
