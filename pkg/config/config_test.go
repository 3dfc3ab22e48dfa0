package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domotruc/jmqtt-test/pkg/discovery"
)

const env = `
jeedom:
  url: http://jeedom.local/
  api_key: secret
  version: "4.4.9"
brokers:
  host:  {host: 192.168.1.10, client_id: jeedom_host}
  local: {discover: true, instance: mosquitto-local}
harness:
  request_timeout: 2s
  timezone: Europe/Paris
webdriver:
  url: http://localhost:4444/wd/hub
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(env))
	require.NoError(t, err)

	assert.Equal(t, "http://jeedom.local/", c.Jeedom.URL)
	assert.Equal(t, "secret", c.Jeedom.APIKey)
	assert.Equal(t, DefaultJeedomClientID, c.Jeedom.ClientID)
	assert.Equal(t, []string{"host", "local"}, c.BrokerNames())

	host := c.Brokers["host"]
	assert.Equal(t, 1883, host.Port)
	assert.Equal(t, "jeedom_host", host.ClientID)
	assert.Equal(t, "192.168.1.10:1883", host.Transport().Addr())

	local := c.Brokers["local"]
	assert.True(t, local.Discover)
	assert.Equal(t, 0, local.Port)
	assert.Equal(t, DefaultJeedomClientID, local.ClientID)

	assert.Equal(t, DefaultHarnessClientID, c.Harness.ClientID)
	assert.Equal(t, 2*time.Second, c.Harness.RequestTimeout)
	assert.Equal(t, DefaultSettleTimeout, c.Harness.SettleTimeout)
	assert.Equal(t, "Europe/Paris", c.Location().String())
	assert.Equal(t, "http://localhost:4444/wd/hub", c.WebDriver.URL)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"no url", "brokers: {host: {host: h}}", "jeedom.url"},
		{"no broker", "jeedom: {url: http://j/}", "brokers"},
		{"no host", "jeedom: {url: http://j/}\nbrokers: {host: {port: 1883}}", "brokers.host.host"},
		{"bad port", "jeedom: {url: http://j/}\nbrokers: {host: {host: h, port: 70000}}", "brokers.host.port"},
		{"bad version", "jeedom: {url: http://j/, version: x}\nbrokers: {host: {host: h}}", "jeedom.version"},
		{"bad timezone", "jeedom: {url: http://j/}\nbrokers: {host: {host: h}}\nharness: {timezone: Mars/Olympus}", "harness.timezone"},
		{"client id clash", "jeedom: {url: http://j/}\nbrokers: {host: {host: h, client_id: jmqtt_test}}", "brokers.host.client_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var ce *Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("jeedom: ["))
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "failed to parse YAML", ce.Message)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte(env), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Brokers, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("brokers: {}"), 0o600))
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad+": jeedom.url: required")
}

type finder map[string]*discovery.Broker

func (f finder) Find(_ context.Context, instance string) (*discovery.Broker, error) {
	if b, ok := f[instance]; ok {
		return b, nil
	}
	return nil, discovery.ErrNotFound
}

func TestDiscover(t *testing.T) {
	c, err := Parse([]byte(env))
	require.NoError(t, err)

	f := finder{"mosquitto-local": {Instance: "mosquitto-local", Port: 1884, Addresses: []string{"fe80::2", "192.168.1.11"}}}
	require.NoError(t, c.Discover(context.Background(), f))
	assert.Equal(t, "192.168.1.11", c.Brokers["local"].Host)
	assert.Equal(t, 1884, c.Brokers["local"].Port)
	assert.Equal(t, "192.168.1.10", c.Brokers["host"].Host)

	c.Brokers["local"] = Broker{Discover: true, Instance: "gone"}
	err = c.Discover(context.Background(), f)
	assert.ErrorIs(t, err, discovery.ErrNotFound)
}
