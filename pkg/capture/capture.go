// Package capture records the MQTT traffic seen on a broker while a test
// step runs.
//
// A Capture subscribes to one topic filter with its own client and keeps
// every message in receipt order until Reset. Steps then assert on the
// captured sequence: the status messages of a daemon restart, the payload
// published by an action command, the absence of a topic.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	plog "github.com/domotruc/jmqtt-test/pkg/log"
	"github.com/domotruc/jmqtt-test/pkg/topic"
	"github.com/domotruc/jmqtt-test/pkg/transport"
)

// DefaultClientID prefixes the client id of every capture.
const DefaultClientID = "jmqtt_test_capture"

// Message is a captured message.
type Message = transport.Message

// Config configures a Capture.
type Config struct {
	// Broker is the logical broker name, used in logs.
	Broker  string
	Address transport.Broker

	// ClientID prefixes the client id; a UUID suffix keeps concurrent
	// captures apart.
	ClientID string

	Timeout        time.Duration
	Factory        transport.Factory
	Logger         *slog.Logger
	ProtocolLogger plog.Logger
}

// Capture collects the messages published on a topic filter.
type Capture struct {
	filter string
	conn   transport.Conn
	logger *slog.Logger
	rec    *plog.Recorder

	mu     sync.Mutex
	msgs   []Message
	notify chan struct{}
	closed bool
}

// New connects to the broker and subscribes to filter. Retained messages
// matching filter are captured first.
func New(ctx context.Context, cfg Config, filter string) (*Capture, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Capture{
		filter: filter,
		logger: logger.With("component", "capture", "broker", cfg.Broker, "filter", filter),
		rec:    plog.NewRecorder(cfg.ProtocolLogger, plog.ChannelCapture, cfg.Broker, cfg.Address.Addr()),
		notify: make(chan struct{}, 1),
	}

	clientID := cfg.ClientID + "_" + uuid.NewString()[:8]
	conn, err := transport.Dial(ctx, cfg.Address, transport.Options{
		ClientID: clientID,
		Timeout:  cfg.Timeout,
		Factory:  cfg.Factory,
		Logger:   c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", filter, err)
	}
	if err := transport.Subscribe(ctx, conn, filter, cfg.Timeout, c.onMessage); err != nil {
		conn.Disconnect(0)
		return nil, fmt.Errorf("capture %s: %w", filter, err)
	}
	c.conn = conn
	c.logger.Debug("capture started", "client_id", clientID)
	return c, nil
}

func (c *Capture) onMessage(_ paho.Client, m paho.Message) {
	msg := transport.FromPaho(m)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()

	c.rec.Publication(plog.DirectionIn, msg.Topic, msg.Payload, msg.Retained)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Filter returns the subscribed topic filter.
func (c *Capture) Filter() string { return c.filter }

// Receive keeps capturing for d, or until ctx is done.
func (c *Capture) Receive(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitSettled waits until no message has arrived for quiet, giving up
// after limit. It returns the number of captured messages.
func (c *Capture) AwaitSettled(ctx context.Context, quiet, limit time.Duration) (int, error) {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	for {
		idle := time.NewTimer(quiet)
		select {
		case <-c.notify:
			idle.Stop()
		case <-idle.C:
			return c.Len(), nil
		case <-deadline.C:
			idle.Stop()
			return c.Len(), nil
		case <-ctx.Done():
			idle.Stop()
			return c.Len(), ctx.Err()
		}
	}
}

// Len returns the number of captured messages.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// Messages returns a copy of the captured messages in receipt order.
func (c *Capture) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.msgs)
}

// Last returns the last captured message.
func (c *Capture) Last() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return Message{}, false
	}
	return c.msgs[len(c.msgs)-1], true
}

// OnTopic returns the messages captured on topics matching filter.
func (c *Capture) OnTopic(filter string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.msgs {
		if topic.Match(filter, m.Topic) {
			out = append(out, m)
		}
	}
	return out
}

// HasTopic reports whether a message was captured on a topic matching
// filter.
func (c *Capture) HasTopic(filter string) bool {
	return len(c.OnTopic(filter)) > 0
}

// Reset forgets the captured messages.
func (c *Capture) Reset() {
	c.mu.Lock()
	c.msgs = nil
	c.mu.Unlock()
	select {
	case <-c.notify:
	default:
	}
}

// Close unsubscribes and disconnects.
func (c *Capture) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.conn.Unsubscribe(c.filter)
	c.conn.Disconnect(250)
	c.logger.Debug("capture closed")
}
