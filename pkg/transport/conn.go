package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Conn is an MQTT connection. paho.Client satisfies it.
type Conn interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// Broker locates an MQTT broker.
type Broker struct {
	Host     string
	Port     int
	Username string
	Password string
}

// DefaultPort is the plain MQTT port.
const DefaultPort = 1883

// Addr returns host:port.
func (b Broker) Addr() string {
	port := b.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(b.Host, strconv.Itoa(port))
}

// URL returns the paho server URL.
func (b Broker) URL() string {
	return "tcp://" + b.Addr()
}

// Factory creates an unconnected Conn for the given options.
type Factory func(opts *paho.ClientOptions) Conn

// PahoFactory creates real paho clients.
func PahoFactory(opts *paho.ClientOptions) Conn {
	return paho.NewClient(opts)
}

// Options configures Dial.
type Options struct {
	ClientID string

	// Timeout bounds each connect, subscribe and publish.
	Timeout time.Duration

	// Attempts is the number of connect attempts. Zero means 3.
	Attempts int

	Backoff BackoffConfig
	Factory Factory
	Logger  *slog.Logger
}

// DefaultTimeout bounds broker operations.
const DefaultTimeout = 5 * time.Second

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Factory == nil {
		o.Factory = PahoFactory
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// ClientOptions returns the paho options used to reach b.
func ClientOptions(b Broker, clientID string, timeout time.Duration) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(b.URL()).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(timeout).
		SetOrderMatters(true)
	if b.Username != "" {
		opts.SetUsername(b.Username)
		opts.SetPassword(b.Password)
	}
	return opts
}

// Dial connects to b, retrying failed connects with backoff.
func Dial(ctx context.Context, b Broker, o Options) (Conn, error) {
	o.defaults()
	conn := o.Factory(ClientOptions(b, o.ClientID, o.Timeout))
	backoff := NewBackoffWithConfig(o.Backoff)

	var lastErr error
	for attempt := 1; attempt <= o.Attempts; attempt++ {
		lastErr = Wait(ctx, conn.Connect(), o.Timeout)
		if lastErr == nil {
			o.Logger.Debug("mqtt connected", "broker", b.Addr(), "client_id", o.ClientID, "attempt", attempt)
			return conn, nil
		}
		if attempt == o.Attempts {
			break
		}
		delay := backoff.Next()
		o.Logger.Debug("mqtt connect failed, retrying", "broker", b.Addr(), "error", lastErr, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("connect to %s as %s: %w", b.Addr(), o.ClientID, lastErr)
}

// ErrTimeout is returned when a broker operation does not complete in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// Wait blocks until tok completes, the timeout elapses or ctx is done.
func Wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe subscribes and waits for the broker acknowledgement.
func Subscribe(ctx context.Context, c Conn, topic string, timeout time.Duration, h paho.MessageHandler) error {
	if err := Wait(ctx, c.Subscribe(topic, 0, h), timeout); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return nil
}

// Publish publishes at QoS 0 and waits for the client to send it.
func Publish(ctx context.Context, c Conn, topic string, payload []byte, retained bool, timeout time.Duration) error {
	if err := Wait(ctx, c.Publish(topic, 0, retained, payload), timeout); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
