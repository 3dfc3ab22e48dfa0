// Package config loads the environment file describing the system under
// test: the Jeedom host, the MQTT brokers and the harness settings.
//
// Example:
//
//	jeedom:
//	  url: http://jeedom.local/
//	  api_key: xxx
//	  client_id: jeedom
//	brokers:
//	  host:  {host: 192.168.1.10, port: 1883, client_id: jeedom}
//	  local: {discover: true, instance: mosquitto-local}
//	harness:
//	  client_id: jmqtt_test
//	  request_timeout: 5s
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/domotruc/jmqtt-test/pkg/discovery"
	"github.com/domotruc/jmqtt-test/pkg/transport"
	"github.com/domotruc/jmqtt-test/pkg/version"
)

// Defaults applied by Parse.
const (
	DefaultJeedomClientID  = "jeedom"
	DefaultHarnessClientID = "jmqtt_test"
	DefaultRequestTimeout  = 5 * time.Second
	DefaultSettleTimeout   = 10 * time.Second
)

// Config is the environment of a harness run.
type Config struct {
	Jeedom    Jeedom            `yaml:"jeedom"`
	Brokers   map[string]Broker `yaml:"brokers"`
	Harness   Harness           `yaml:"harness"`
	WebDriver WebDriver         `yaml:"webdriver"`
}

// Jeedom locates the Jeedom host.
type Jeedom struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`

	// ClientID is the default MQTT client id of the plugin daemons.
	ClientID string `yaml:"client_id"`

	// Version of the core. Queried with the version method when empty.
	Version string `yaml:"version"`
}

// Broker is one MQTT broker the plugin connects to.
type Broker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Discover resolves Host and Port with mDNS, looking for Instance or
	// for the first broker announced when Instance is empty.
	Discover bool   `yaml:"discover"`
	Instance string `yaml:"instance"`
}

// Transport returns the broker address as used by the MQTT clients.
func (b Broker) Transport() transport.Broker {
	return transport.Broker{Host: b.Host, Port: b.Port, Username: b.Username, Password: b.Password}
}

// Harness holds the settings of the harness itself.
type Harness struct {
	ClientID       string        `yaml:"client_id"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SettleTimeout  time.Duration `yaml:"settle_timeout"`
	Timezone       string        `yaml:"timezone"`
}

// WebDriver locates the browser automation endpoint driving the plugin
// page.
type WebDriver struct {
	URL string `yaml:"url"`
}

// Error reports an invalid environment file.
type Error struct {
	File    string
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Load reads and parses an environment file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{File: path, Message: "failed to read file", Cause: err}
	}
	c, err := Parse(data)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.File = path
		}
		return nil, err
	}
	return c, nil
}

// Parse parses an environment file, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &Error{Message: "failed to parse YAML", Cause: err}
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Jeedom.ClientID == "" {
		c.Jeedom.ClientID = DefaultJeedomClientID
	}
	if c.Harness.ClientID == "" {
		c.Harness.ClientID = DefaultHarnessClientID
	}
	if c.Harness.RequestTimeout <= 0 {
		c.Harness.RequestTimeout = DefaultRequestTimeout
	}
	if c.Harness.SettleTimeout <= 0 {
		c.Harness.SettleTimeout = DefaultSettleTimeout
	}
	for name, b := range c.Brokers {
		if b.ClientID == "" {
			b.ClientID = c.Jeedom.ClientID
		}
		if b.Port == 0 && !b.Discover {
			b.Port = transport.DefaultPort
		}
		c.Brokers[name] = b
	}
}

// Validate checks the fields a run cannot do without.
func (c *Config) Validate() error {
	if c.Jeedom.URL == "" {
		return &Error{Field: "jeedom.url", Message: "required"}
	}
	if c.Jeedom.Version != "" {
		if _, err := version.Parse(c.Jeedom.Version); err != nil {
			return &Error{Field: "jeedom.version", Message: "invalid version", Cause: err}
		}
	}
	if c.Harness.Timezone != "" {
		if _, err := time.LoadLocation(c.Harness.Timezone); err != nil {
			return &Error{Field: "harness.timezone", Message: "unknown time zone", Cause: err}
		}
	}
	if len(c.Brokers) == 0 {
		return &Error{Field: "brokers", Message: "at least one broker is required"}
	}
	for _, name := range c.BrokerNames() {
		b := c.Brokers[name]
		field := "brokers." + name
		if !b.Discover && b.Host == "" {
			return &Error{Field: field + ".host", Message: "required unless discover is set"}
		}
		if b.Port < 0 || b.Port > 65535 {
			return &Error{Field: field + ".port", Message: fmt.Sprintf("invalid port %d", b.Port)}
		}
		if b.ClientID == c.Harness.ClientID {
			return &Error{Field: field + ".client_id", Message: "must differ from harness.client_id"}
		}
	}
	return nil
}

// BrokerNames returns the broker names in sorted order.
func (c *Config) BrokerNames() []string {
	names := make([]string, 0, len(c.Brokers))
	for name := range c.Brokers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Location returns the time zone of the Jeedom host, time.Local by default.
func (c *Config) Location() *time.Location {
	if c.Harness.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Harness.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Finder resolves a broker announced with mDNS.
type Finder interface {
	Find(ctx context.Context, instance string) (*discovery.Broker, error)
}

// Discover fills in the host and port of every broker flagged with
// discover.
func (c *Config) Discover(ctx context.Context, f Finder) error {
	for _, name := range c.BrokerNames() {
		b := c.Brokers[name]
		if !b.Discover {
			continue
		}
		found, err := f.Find(ctx, b.Instance)
		if err != nil {
			return fmt.Errorf("discover broker %s: %w", name, err)
		}
		b.Host = found.Address()
		if b.Port == 0 {
			b.Port = found.Port
		}
		c.Brokers[name] = b
	}
	return nil
}
