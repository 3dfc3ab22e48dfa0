package log

import (
	"time"

	"github.com/google/uuid"
)

// Logger receives protocol events. Implementations must be safe for
// concurrent use and must not block the caller for long.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}

// OrNoop returns l, or a NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// Recorder stamps events of one client connection before handing them to
// a Logger. Clients keep one Recorder per connection.
type Recorder struct {
	logger       Logger
	connectionID string
	channel      Channel
	broker       string
	remote       string
	now          func() time.Time
}

// NewRecorder creates a Recorder with a fresh connection id.
func NewRecorder(l Logger, ch Channel, broker, remote string) *Recorder {
	return &Recorder{
		logger:       OrNoop(l),
		connectionID: uuid.NewString(),
		channel:      ch,
		broker:       broker,
		remote:       remote,
		now:          time.Now,
	}
}

// ConnectionID returns the id stamped on every event.
func (r *Recorder) ConnectionID() string { return r.connectionID }

func (r *Recorder) base(dir Direction, cat Category) Event {
	return Event{
		Timestamp:    r.now(),
		ConnectionID: r.connectionID,
		Direction:    dir,
		Channel:      r.channel,
		Category:     cat,
		Broker:       r.broker,
		RemoteAddr:   r.remote,
	}
}

// Request logs an outgoing request.
func (r *Recorder) Request(id, method, topic string, payload []byte) {
	ev := r.base(DirectionOut, CategoryMessage)
	ev.Message = &MessageEvent{
		Type:      MessageTypeRequest,
		RequestID: id,
		Method:    method,
		Topic:     topic,
		Payload:   payload,
	}
	r.logger.Log(ev)
}

// Response logs an incoming response and the time it took.
func (r *Recorder) Response(id, method, topic string, payload []byte, took time.Duration) {
	ev := r.base(DirectionIn, CategoryMessage)
	ev.Message = &MessageEvent{
		Type:      MessageTypeResponse,
		RequestID: id,
		Method:    method,
		Topic:     topic,
		Payload:   payload,
		Duration:  &took,
	}
	r.logger.Log(ev)
}

// Publication logs an MQTT message seen or sent outside the API exchange.
func (r *Recorder) Publication(dir Direction, topic string, payload []byte, retained bool) {
	ev := r.base(dir, CategoryMessage)
	ev.Message = &MessageEvent{
		Type:     MessageTypePublication,
		Topic:    topic,
		Retained: retained,
		Payload:  payload,
	}
	r.logger.Log(ev)
}

// State logs a state transition.
func (r *Recorder) State(entity StateEntity, old, next, reason string) {
	ev := r.base(DirectionIn, CategoryState)
	ev.StateChange = &StateChangeEvent{Entity: entity, OldState: old, NewState: next, Reason: reason}
	r.logger.Log(ev)
}

// Error logs a failure. code is nil when the error carries no envelope code.
func (r *Recorder) Error(context string, err error, code *int) {
	ev := r.base(DirectionIn, CategoryError)
	ev.Error = &ErrorEventData{Message: err.Error(), Code: code, Context: context}
	r.logger.Log(ev)
}
