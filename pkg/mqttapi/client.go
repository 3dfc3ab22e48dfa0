// Package mqttapi implements the jMQTT MQTT request API client.
//
// Requests are JSON-RPC documents published to <jeedom-client-id>/api; the
// plugin answers on the topic named in the request, <harness-client-id>/req.
// A response is matched as the next message on that topic, so a Client
// keeps at most one request in flight.
package mqttapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/domotruc/jmqtt-test/pkg/channel"
	"github.com/domotruc/jmqtt-test/pkg/jsonrpc"
	plog "github.com/domotruc/jmqtt-test/pkg/log"
	"github.com/domotruc/jmqtt-test/pkg/refstore"
	"github.com/domotruc/jmqtt-test/pkg/transport"
)

// DefaultTimeout bounds the wait for a response.
const DefaultTimeout = 5 * time.Second

// Mirror records the API traffic in the reference model. *refstore.Store
// implements it.
type Mirror interface {
	MirrorRequest(broker string, payload []byte) error
	MirrorResponse(broker, topic string, payload []byte) error
}

// Config configures a Client.
type Config struct {
	// Broker is the logical broker name, used for mirroring and logs.
	Broker string

	Address transport.Broker

	// JeedomClientID is the client id of the plugin on this broker.
	JeedomClientID string

	// ClientID is the harness client id. Defaults to jmqtt_test.
	ClientID string

	// Timeout bounds the wait for each response.
	Timeout time.Duration

	// Mirror, when set, receives every request and response.
	Mirror Mirror

	Factory        transport.Factory
	Logger         *slog.Logger
	ProtocolLogger plog.Logger
}

// Client sends requests to the plugin over one broker.
type Client struct {
	cfg    Config
	logger *slog.Logger
	rec    *plog.Recorder

	mu     sync.Mutex
	conn   transport.Conn
	nextID int

	responses chan transport.Message

	sideMu    sync.Mutex
	sideTopic string
	side      chan transport.Message
}

// New creates a Client. The connection is opened by the first request.
func New(cfg Config) (*Client, error) {
	if cfg.JeedomClientID == "" {
		return nil, fmt.Errorf("mqttapi: empty Jeedom client id for broker %q", cfg.Broker)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = refstore.DefaultHarnessClientID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		logger:    logger.With("channel", channel.MQTT, "broker", cfg.Broker),
		rec:       plog.NewRecorder(cfg.ProtocolLogger, plog.ChannelMQTTAPI, cfg.Broker, cfg.Address.Addr()),
		responses: make(chan transport.Message, 16),
		side:      make(chan transport.Message, 16),
	}, nil
}

// RequestTopic returns the topic requests are published to.
func (c *Client) RequestTopic() string { return c.cfg.JeedomClientID + "/api" }

// ResponseTopic returns the topic responses are expected on.
func (c *Client) ResponseTopic() string { return c.cfg.ClientID + "/req" }

// Channel returns the channel adapter over this client.
func (c *Client) Channel() *channel.API {
	return channel.NewAPI(channel.MQTT, c)
}

// Connected reports whether the connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.conn != nil {
		if c.conn.IsConnected() {
			return nil
		}
		c.conn.Disconnect(0)
		c.conn = nil
		c.rec.State(plog.StateEntityConnection, "connected", "lost", "")
	}
	conn, err := transport.Dial(ctx, c.cfg.Address, transport.Options{
		ClientID: c.cfg.ClientID,
		Timeout:  c.cfg.Timeout,
		Factory:  c.cfg.Factory,
		Logger:   c.logger,
	})
	if err != nil {
		c.rec.Error("connect", err, nil)
		return err
	}
	if err := transport.Subscribe(ctx, conn, c.ResponseTopic(), c.cfg.Timeout, c.onResponse); err != nil {
		conn.Disconnect(0)
		return err
	}
	c.conn = conn
	c.rec.State(plog.StateEntityConnection, "", "connected", "")
	return nil
}

func (c *Client) onResponse(_ paho.Client, m paho.Message) {
	msg := transport.FromPaho(m)
	select {
	case c.responses <- msg:
	default:
		c.logger.Warn("response dropped", "topic", msg.Topic)
	}
}

func (c *Client) onSide(_ paho.Client, m paho.Message) {
	msg := transport.FromPaho(m)
	c.sideMu.Lock()
	want := c.sideTopic
	c.sideMu.Unlock()
	if msg.Topic != want {
		return
	}
	c.rec.Publication(plog.DirectionIn, msg.Topic, msg.Payload, msg.Retained)
	select {
	case c.side <- msg:
	default:
	}
}

// Request sends a request and waits for its response. A response with an
// error member is returned together with an *channel.ErrorEnvelope.
func (c *Client) Request(ctx context.Context, method string, params map[string]any) (*jsonrpc.Response, error) {
	resp, _, err := c.request(ctx, method, params, "")
	return resp, err
}

// RequestWithSideEffect sends a request and waits for both its response and
// the next message on sideTopic, which must not contain wildcards.
func (c *Client) RequestWithSideEffect(ctx context.Context, method string, params map[string]any, sideTopic string) (*jsonrpc.Response, []byte, error) {
	if sideTopic == "" {
		return nil, nil, fmt.Errorf("mqttapi: empty side effect topic")
	}
	return c.request(ctx, method, params, sideTopic)
}

// Call implements channel.Caller.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	resp, err := c.Request(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) request(ctx context.Context, method string, params map[string]any, sideTopic string) (*jsonrpc.Response, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, nil, err
	}
	drain(c.responses)
	drain(c.side)

	if sideTopic != "" {
		c.sideMu.Lock()
		c.sideTopic = sideTopic
		c.sideMu.Unlock()
		if err := transport.Subscribe(ctx, c.conn, sideTopic, c.cfg.Timeout, c.onSide); err != nil {
			return nil, nil, err
		}
		defer func() {
			c.conn.Unsubscribe(sideTopic)
			c.sideMu.Lock()
			c.sideTopic = ""
			c.sideMu.Unlock()
		}()
	}

	req := jsonrpc.Request{
		ID:     strconv.Itoa(c.nextID),
		Method: method,
		Topic:  c.ResponseTopic(),
		Params: params,
	}
	c.nextID++
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: encode request: %w", channel.MQTT, method, err)
	}

	c.rec.Request(req.ID, method, c.RequestTopic(), payload)
	start := time.Now()
	if err := transport.Publish(ctx, c.conn, c.RequestTopic(), payload, false, c.cfg.Timeout); err != nil {
		return nil, nil, err
	}
	if c.cfg.Mirror != nil {
		if err := c.cfg.Mirror.MirrorRequest(c.cfg.Broker, payload); err != nil {
			return nil, nil, err
		}
	}

	deadline := time.NewTimer(c.cfg.Timeout)
	defer deadline.Stop()

	var (
		respMsg *transport.Message
		sideMsg *transport.Message
	)
	for respMsg == nil || (sideTopic != "" && sideMsg == nil) {
		select {
		case m := <-c.responses:
			respMsg = &m
		case m := <-c.side:
			sideMsg = &m
		case <-deadline.C:
			err := channel.NoResponse(channel.MQTT, method)
			if respMsg != nil {
				err = fmt.Errorf("%s %s: no message on %s: %w", channel.MQTT, method, sideTopic, channel.ErrNoResponse)
			}
			c.rec.Error(method, err, nil)
			return nil, nil, err
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	took := time.Since(start)
	c.rec.Response(req.ID, method, respMsg.Topic, respMsg.Payload, took)
	c.logger.Debug("request", "method", method, "id", req.ID, "took", took)

	if c.cfg.Mirror != nil {
		if err := c.cfg.Mirror.MirrorResponse(c.cfg.Broker, respMsg.Topic, respMsg.Payload); err != nil {
			return nil, nil, err
		}
	}

	resp, err := jsonrpc.DecodeResponse(channel.MQTT, method, respMsg.Payload)
	if err != nil {
		if resp != nil && resp.Error != nil {
			code := resp.Error.Code
			c.rec.Error(method, err, &code)
		}
		return nil, nil, err
	}
	var side []byte
	if sideMsg != nil {
		side = sideMsg.Payload
	}
	return resp, side, nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Disconnect(250)
		c.conn = nil
		c.rec.State(plog.StateEntityConnection, "connected", "disconnected", "")
	}
}

func drain(ch chan transport.Message) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

var _ channel.Caller = (*Client)(nil)
