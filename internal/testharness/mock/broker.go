// Package mock provides an in-memory MQTT broker and a fake jMQTT plugin
// for testing the harness without a live system.
package mock

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/domotruc/jmqtt-test/pkg/topic"
	"github.com/domotruc/jmqtt-test/pkg/transport"
)

// Message is a message published on the broker.
type Message struct {
	ClientID string
	Topic    string
	Payload  []byte
	Retained bool
}

// BrokerHandlers holds callbacks for broker operations.
type BrokerHandlers struct {
	// OnPublish is called after a message has been routed.
	OnPublish func(msg Message)

	// OnConnect is called when a client connects.
	OnConnect func(clientID string)
}

// Broker is an in-memory MQTT broker. Messages are delivered synchronously
// from Publish, in publication order.
type Broker struct {
	Handlers BrokerHandlers

	mu        sync.Mutex
	down      bool
	refusals  int
	clients   map[string]*Client
	retained  map[string]Message
	published []Message
}

// NewBroker creates a running broker.
func NewBroker() *Broker {
	return &Broker{
		clients:  make(map[string]*Client),
		retained: make(map[string]Message),
	}
}

// Factory returns a transport.Factory creating clients of this broker.
func (b *Broker) Factory() transport.Factory {
	return func(opts *paho.ClientOptions) transport.Conn {
		return b.NewClient(paho.NewOptionsReader(opts).ClientID())
	}
}

// NewClient creates an unconnected client.
func (b *Broker) NewClient(clientID string) *Client {
	return &Client{broker: b, id: clientID, subs: make(map[string]paho.MessageHandler)}
}

// SetDown stops or restarts the broker. Stopping disconnects every client.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
	if down {
		for id, c := range b.clients {
			c.setConnected(false)
			delete(b.clients, id)
		}
	}
}

// RefuseConnects makes the next n Connect calls fail.
func (b *Broker) RefuseConnects(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refusals = n
}

// Published returns every message published so far.
func (b *Broker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}

// Retained returns the retained message of t.
func (b *Broker) Retained(t string) (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.retained[t]
	return m, ok
}

// ClearPublished forgets the published history, keeping retained messages.
func (b *Broker) ClearPublished() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = b.published[:0]
}

// Inject publishes a message as if an external client sent it.
func (b *Broker) Inject(t string, payload []byte, retained bool) {
	b.route(Message{ClientID: "external", Topic: t, Payload: payload, Retained: retained})
}

func (b *Broker) connect(c *Client) error {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return ErrBrokerDown
	}
	if b.refusals > 0 {
		b.refusals--
		b.mu.Unlock()
		return ErrBrokerDown
	}
	if prev, ok := b.clients[c.id]; ok && prev != c && prev.IsConnected() {
		b.mu.Unlock()
		return ErrClientIDInUse
	}
	b.clients[c.id] = c
	onConnect := b.Handlers.OnConnect
	b.mu.Unlock()

	if onConnect != nil {
		onConnect(c.id)
	}
	return nil
}

func (b *Broker) disconnect(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[c.id] == c {
		delete(b.clients, c.id)
	}
}

type delivery struct {
	handler paho.MessageHandler
	msg     *message
}

func (b *Broker) route(m Message) {
	b.mu.Lock()
	b.published = append(b.published, m)
	if m.Retained {
		if len(m.Payload) == 0 {
			delete(b.retained, m.Topic)
		} else {
			b.retained[m.Topic] = m
		}
	}
	var out []delivery
	for _, c := range b.clients {
		out = append(out, c.matching(m.Topic, &message{topic: m.Topic, payload: m.Payload})...)
	}
	onPublish := b.Handlers.OnPublish
	b.mu.Unlock()

	for _, d := range out {
		d.handler(nil, d.msg)
	}
	if onPublish != nil {
		onPublish(m)
	}
}

func (b *Broker) retainedFor(filter string) []*message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*message
	for t, m := range b.retained {
		if topic.Match(filter, t) {
			out = append(out, &message{topic: t, payload: m.Payload, retained: true})
		}
	}
	return out
}

// Client is a connection to a Broker. It implements transport.Conn.
type Client struct {
	broker *Broker
	id     string

	mu        sync.Mutex
	connected bool
	subs      map[string]paho.MessageHandler
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
	if !v {
		clear(c.subs)
	}
}

// Connect connects the client.
func (c *Client) Connect() paho.Token {
	if err := c.broker.connect(c); err != nil {
		return done(err)
	}
	c.setConnected(true)
	return done(nil)
}

// Disconnect disconnects the client.
func (c *Client) Disconnect(uint) {
	c.setConnected(false)
	c.broker.disconnect(c)
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Publish routes a message through the broker.
func (c *Client) Publish(t string, _ byte, retained bool, payload any) paho.Token {
	if !c.IsConnected() {
		return done(ErrNotConnected)
	}
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	}
	c.broker.route(Message{ClientID: c.id, Topic: t, Payload: data, Retained: retained})
	return done(nil)
}

// Subscribe registers a handler and delivers matching retained messages.
func (c *Client) Subscribe(filter string, _ byte, h paho.MessageHandler) paho.Token {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return done(ErrNotConnected)
	}
	c.subs[filter] = h
	c.mu.Unlock()

	if h != nil {
		for _, m := range c.broker.retainedFor(filter) {
			h(nil, m)
		}
	}
	return done(nil)
}

// Unsubscribe removes subscriptions.
func (c *Client) Unsubscribe(filters ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range filters {
		delete(c.subs, f)
	}
	return done(nil)
}

func (c *Client) matching(t string, m *message) []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	var out []delivery
	for f, h := range c.subs {
		if h != nil && topic.Match(f, t) {
			out = append(out, delivery{handler: h, msg: m})
		}
	}
	return out
}

var _ transport.Conn = (*Client)(nil)

// token is an already completed paho.Token.
type token struct {
	ch  chan struct{}
	err error
}

func done(err error) *token {
	ch := make(chan struct{})
	close(ch)
	return &token{ch: ch, err: err}
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.ch }
func (t *token) Error() error                   { return t.err }

// message implements paho.Message.
type message struct {
	topic    string
	payload  []byte
	retained bool
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 0 }
func (m *message) Retained() bool    { return m.retained }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
