package reconcile

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domotruc/jmqtt-test/internal/testharness/mock"
	"github.com/domotruc/jmqtt-test/pkg/channel"
	"github.com/domotruc/jmqtt-test/pkg/dom"
	"github.com/domotruc/jmqtt-test/pkg/jsonrpc"
	"github.com/domotruc/jmqtt-test/pkg/metrics"
	"github.com/domotruc/jmqtt-test/pkg/mqttapi"
	"github.com/domotruc/jmqtt-test/pkg/refstore"
	"github.com/domotruc/jmqtt-test/pkg/version"
)

var now = time.Date(2026, 5, 2, 14, 30, 12, 0, time.Local)

type env struct {
	jeedom  *mock.Jeedom
	mqtt    *mock.Broker
	driver  *mock.Driver
	store   *refstore.Store
	metrics *metrics.Metrics
	engine  *Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	j, err := mock.NewJeedom(mock.JeedomConfig{Now: func() time.Time { return now }})
	require.NoError(t, err)
	t.Cleanup(j.Close)

	srv := httptest.NewServer(j.Handler())
	t.Cleanup(srv.Close)
	rpc, err := jsonrpc.New(jsonrpc.Config{URL: srv.URL})
	require.NoError(t, err)

	e := &env{
		jeedom:  j,
		mqtt:    mock.NewBroker(),
		store:   refstore.New(refstore.Config{Version: version.MustParse(mock.DefaultJeedomVersion)}),
		metrics: metrics.New(),
	}
	e.driver = mock.NewDriver(j, e.mqtt)

	pool := mqttapi.NewPool(map[string]mqttapi.Config{
		"host": {
			Broker:         "host",
			JeedomClientID: "jeedom",
			Timeout:        200 * time.Millisecond,
			Mirror:         e.store,
			Factory:        e.mqtt.Factory(),
		},
	})
	t.Cleanup(pool.Close)

	e.engine = New(Config{
		Store:   e.store,
		JSONRPC: rpc.Channel(),
		MQTT: func(broker string) (channel.Channel, error) {
			c, err := pool.Get(broker)
			if err != nil {
				return nil, err
			}
			return c.Channel(), nil
		},
		DOM:     dom.NewAdapter(j.Page()),
		Metrics: e.metrics,
	})
	return e
}

// addHost creates the "host" broker and the "lamp" equipment on both sides.
func (e *env) addHost(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := e.store.AddBroker("host", "localhost", 1883, "jeedom")
	require.NoError(t, err)
	require.NoError(t, e.driver.AddBroker(ctx, "host", "localhost", 1883, "jeedom"))

	_, err = e.store.AddEquipment("host", "lamp", true, nil, true)
	require.NoError(t, err)
	require.NoError(t, e.driver.AddEquipment(ctx, "host", "lamp", "lamp/#", true))
}

func requireMismatch(t *testing.T, err error) *MismatchError {
	t.Helper()
	var m *MismatchError
	require.ErrorAs(t, err, &m)
	return m
}

func TestAssertBindsIDs(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)

	require.NoError(t, e.engine.Assert(context.Background(), channel.JSONRPC, "", false))

	b, err := e.store.Broker("host")
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID())
	lamp, err := e.store.Equipment("host", "lamp")
	require.NoError(t, err)
	assert.NotEmpty(t, lamp.ID)
	assert.Equal(t, b.ID(), lamp.Configuration.BrkID)
	for _, c := range b.Equipment().Cmds {
		assert.NotEmpty(t, c.ID, c.Name)
		assert.Equal(t, b.ID(), c.EqLogicID, c.Name)
	}
}

func TestAssertDetectsMissingCommand(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)
	ctx := context.Background()
	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "host", false))

	e.mqtt.Inject("lamp/state", []byte("on"), false)

	m := requireMismatch(t, e.engine.Assert(ctx, channel.JSONRPC, "host", false))
	assert.Equal(t, channel.JSONRPC, m.Channel)
	assert.Equal(t, "host", m.Broker)
	assert.Equal(t, "commands of lamp", m.Entity)
	assert.Contains(t, m.Diff, "+  \"state\"")

	_, err := e.store.SetCmdInfo("host", "lamp", "lamp/state", "on", "")
	require.NoError(t, err)
	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "host", false))
}

func TestAssertDetectsValueChange(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)
	ctx := context.Background()

	e.mqtt.Inject("lamp/state", []byte("on"), false)
	_, err := e.store.SetCmdInfo("host", "lamp", "lamp/state", "on", "")
	require.NoError(t, err)
	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))

	e.mqtt.Inject("lamp/state", []byte("off"), false)
	m := requireMismatch(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))
	assert.Equal(t, "command lamp/state", m.Entity)
	assert.Contains(t, m.Error(), "fields differ")

	_, err = e.store.SetCmdInfo("host", "lamp", "lamp/state", "off", "")
	require.NoError(t, err)
	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))
}

func TestAssertDetectsEquipmentField(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)
	ctx := context.Background()

	require.NoError(t, e.driver.SetEnabled(ctx, "host", "lamp", false))
	m := requireMismatch(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))
	assert.Equal(t, "equipment lamp", m.Entity)
	assert.Contains(t, m.Diff, `"isEnable"`)

	require.NoError(t, e.store.SetEnabled("host", "lamp", false))
	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))
}

func TestAssertDetectsEquipmentList(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)
	ctx := context.Background()

	_, err := e.store.AddEquipment("host", "fan", true, nil, true)
	require.NoError(t, err)
	m := requireMismatch(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))
	assert.Equal(t, "equipment list", m.Entity)

	require.NoError(t, e.driver.AddEquipment(ctx, "host", "fan", "fan/#", true))
	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))

	require.NoError(t, e.store.DeleteEquipment("host", "fan"))
	require.NoError(t, e.driver.DeleteEquipment(ctx, "host", "fan"))
	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))
}

func TestAssertUnknownBroker(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)

	err := e.engine.Assert(context.Background(), channel.JSONRPC, "nope", false)
	assert.ErrorIs(t, err, refstore.ErrNotFound)
}

func TestAssertThroughMQTT(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)
	ctx := context.Background()

	// Every request lands in the api command of the broker; reading
	// through MQTT several times checks the mirrored values stay in step.
	require.NoError(t, e.engine.Assert(ctx, channel.MQTT, "host", false))
	require.NoError(t, e.engine.Assert(ctx, channel.MQTT, "", false))

	b, err := e.store.Broker("host")
	require.NoError(t, err)
	api := b.Equipment().Command("api")
	require.NotNil(t, api)
	assert.True(t, strings.HasPrefix(api.CurrentValue.String(), `{"id":`), api.CurrentValue.String())

	// Read after the last request was stored.
	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))
}

func TestAssertThroughMQTTMissingHarnessEquipment(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)
	ctx := context.Background()

	// The plugin creates an equipment receiving the API responses; the
	// reference must know it too.
	require.NoError(t, e.driver.AddEquipment(ctx, "host", refstore.DefaultHarnessClientID, refstore.DefaultHarnessClientID+"/#", true))
	m := requireMismatch(t, e.engine.Assert(ctx, channel.MQTT, "host", false))
	assert.Equal(t, channel.MQTT, m.Channel)
	assert.Equal(t, "equipment list", m.Entity)
}

func TestAssertCards(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)
	ctx := context.Background()

	err := e.engine.Assert(ctx, channel.DOM, "host", false)
	require.Error(t, err)
	assert.NotErrorAs(t, err, new(*MismatchError))

	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "host", true))
	require.NoError(t, e.engine.Assert(ctx, channel.DOM, "host", false))

	require.NoError(t, e.driver.SetAutoAddCmd(ctx, "host", "lamp", false))
	m := requireMismatch(t, e.engine.Assert(ctx, channel.DOM, "host", false))
	assert.Equal(t, channel.DOM, m.Channel)
	assert.Equal(t, "cards", m.Entity)

	require.NoError(t, e.store.SetAutoAddCmd("host", "lamp", false))
	require.NoError(t, e.engine.Assert(ctx, channel.DOM, "", false))
}

func TestAssertVisualWithoutPage(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)
	e.engine.cfg.DOM = nil

	require.NoError(t, e.engine.Assert(context.Background(), channel.JSONRPC, "", true))
	assert.Error(t, e.engine.Assert(context.Background(), channel.DOM, "", false))
}

func TestAssertCmdPanel(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)
	ctx := context.Background()

	e.mqtt.Inject("lamp/state", []byte("on"), false)
	_, err := e.store.SetCmdInfo("host", "lamp", "lamp/state", "on", "")
	require.NoError(t, err)
	require.NoError(t, e.driver.ShowEquipment(ctx, "host", "lamp"))
	require.NoError(t, e.engine.AssertCmdPanel(ctx, "host", "lamp"))

	e.mqtt.Inject("lamp/power", []byte("12"), false)
	m := requireMismatch(t, e.engine.AssertCmdPanel(ctx, "host", "lamp"))
	assert.Equal(t, "command panel of lamp", m.Entity)
}

func TestAssertLastCommunication(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)
	ctx := context.Background()

	err := e.engine.AssertLastCommunication(ctx, "host", "lamp", now)
	require.Error(t, err, "unbound equipment")

	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))
	m := requireMismatch(t, e.engine.AssertLastCommunication(ctx, "host", "lamp", now))
	assert.Equal(t, "no last communication date", m.Reason)

	e.mqtt.Inject("lamp/state", []byte("on"), false)
	require.NoError(t, e.engine.AssertLastCommunication(ctx, "host", "lamp", now))
	require.NoError(t, e.engine.AssertLastCommunication(ctx, "host", "lamp", now.Add(-DefaultLastCommunicationTolerance)))

	m = requireMismatch(t, e.engine.AssertLastCommunication(ctx, "host", "lamp", now.Add(10*time.Second)))
	assert.Contains(t, m.Reason, "away from")
}

func TestAssertMetrics(t *testing.T) {
	e := newEnv(t)
	e.addHost(t)
	ctx := context.Background()

	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))
	require.NoError(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))
	_, err := e.store.AddEquipment("host", "fan", true, nil, true)
	require.NoError(t, err)
	require.Error(t, e.engine.Assert(ctx, channel.JSONRPC, "", false))
	require.Error(t, e.engine.Assert(ctx, channel.ID("smoke"), "", false))

	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.Assertions.WithLabelValues("jsonrpc", metrics.ResultPass)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Assertions.WithLabelValues("jsonrpc", metrics.ResultFail)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Assertions.WithLabelValues("smoke", metrics.ResultError)))
}

func TestMismatchErrorMessage(t *testing.T) {
	err := &MismatchError{Channel: channel.MQTT, Broker: "host", Entity: "equipment lamp", Reason: "fields differ", Diff: "-a\n+b\n"}
	assert.Equal(t, "mqtt broker host: equipment lamp: fields differ\n-a\n+b\n", err.Error())

	err = &MismatchError{Channel: channel.DOM, Entity: "cards", Reason: "differ"}
	assert.Equal(t, "dom: cards: differ", err.Error())
	assert.False(t, errors.Is(err, refstore.ErrNotFound))
}

func TestDiff(t *testing.T) {
	assert.Empty(t, diff(map[string]any{"a": "1"}, map[string]any{"a": "1"}))

	d := diff([]string{"host", "lamp"}, []string{"host", "fan"})
	assert.Contains(t, d, "--- expected")
	assert.Contains(t, d, "+++ actual")
	assert.Contains(t, d, `-  "lamp"`)
	assert.Contains(t, d, `+  "fan"`)
}
