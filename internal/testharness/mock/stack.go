package mock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/domotruc/jmqtt-test/pkg/config"
	"github.com/domotruc/jmqtt-test/pkg/dom"
	"github.com/domotruc/jmqtt-test/pkg/transport"
)

// StackBroker is the name of the broker an environment of a Stack
// declares.
const StackBroker = "host"

// Stack is a fake plugin served on a loopback HTTP listener, with its
// in-memory MQTT broker. It lets the harness run whole scenarios without
// a Jeedom host.
type Stack struct {
	Jeedom *Jeedom
	MQTT   *Broker
	URL    string

	srv *http.Server
}

// StartStack starts a fake plugin listening on 127.0.0.1.
func StartStack(cfg JeedomConfig) (*Stack, error) {
	j, err := NewJeedom(cfg)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		j.Close()
		return nil, fmt.Errorf("fake jeedom: %w", err)
	}
	s := &Stack{
		Jeedom: j,
		MQTT:   NewBroker(),
		URL:    "http://" + ln.Addr().String(),
		srv:    &http.Server{Handler: j.Handler(), ReadHeaderTimeout: 5 * time.Second},
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("fake jeedom stopped", "error", err)
		}
	}()
	return s, nil
}

// Env returns an environment pointing at the stack.
func (s *Stack) Env() *config.Config {
	return &config.Config{
		Jeedom: config.Jeedom{URL: s.URL, ClientID: config.DefaultJeedomClientID},
		Brokers: map[string]config.Broker{
			StackBroker: {Host: "localhost", Port: transport.DefaultPort, ClientID: config.DefaultJeedomClientID},
		},
		Harness: config.Harness{
			ClientID:       config.DefaultHarnessClientID,
			RequestTimeout: 2 * time.Second,
			SettleTimeout:  2 * time.Second,
		},
	}
}

// Driver returns an action driver acting on the fake plugin.
func (s *Stack) Driver() *Driver { return NewDriver(s.Jeedom, s.MQTT) }

// Page returns the plugin page read through HTTP, as a browser would.
func (s *Stack) Page(client *http.Client) dom.Page {
	return dom.NewHTTPPage(client, s.URL+"/index.php?v=d&m=jMQTT&p=jMQTT")
}

// Factory returns the MQTT client factory of the in-memory broker.
func (s *Stack) Factory() transport.Factory { return s.MQTT.Factory() }

// Close stops the HTTP listener and the daemons.
func (s *Stack) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
	s.Jeedom.Close()
}
