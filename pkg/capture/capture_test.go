package capture

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domotruc/jmqtt-test/internal/testharness/mock"
	"github.com/domotruc/jmqtt-test/pkg/model"
)

func newCapture(t *testing.T, b *mock.Broker, filter string) *Capture {
	t.Helper()
	c, err := New(context.Background(), Config{Broker: "host", Factory: b.Factory(), Timeout: time.Second}, filter)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCaptureOrderAndFilter(t *testing.T) {
	b := mock.NewBroker()
	c := newCapture(t, b, "sensor/#")

	b.Inject("sensor/a", []byte("1"), false)
	b.Inject("other/a", []byte("x"), false)
	b.Inject("sensor/b/c", []byte("2"), false)
	b.Inject("sensor/a", []byte("3"), false)

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "sensor/a", msgs[0].Topic)
	assert.Equal(t, "sensor/b/c", msgs[1].Topic)
	assert.Equal(t, "3", string(msgs[2].Payload))

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "3", string(last.Payload))

	assert.True(t, c.HasTopic("sensor/+/c"))
	assert.False(t, c.HasTopic("other/a"))
	assert.Len(t, c.OnTopic("sensor/a"), 2)
}

func TestCaptureRetainedFirst(t *testing.T) {
	b := mock.NewBroker()
	b.Inject("jeedom/status", []byte("online"), true)
	c := newCapture(t, b, "jeedom/status")

	require.Equal(t, 1, c.Len())
	last, _ := c.Last()
	assert.True(t, last.Retained)
	assert.Equal(t, "online", string(last.Payload))
}

func TestCaptureClientIDs(t *testing.T) {
	b := mock.NewBroker()
	var ids []string
	b.Handlers.OnConnect = func(id string) { ids = append(ids, id) }

	newCapture(t, b, "#")
	newCapture(t, b, "#")

	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	for _, id := range ids {
		assert.True(t, strings.HasPrefix(id, DefaultClientID+"_"), id)
	}
}

func TestResetAndClose(t *testing.T) {
	b := mock.NewBroker()
	c := newCapture(t, b, "#")
	b.Inject("a", []byte("1"), false)
	c.Reset()
	_, ok := c.Last()
	assert.False(t, ok)

	c.Close()
	b.Inject("a", []byte("2"), false)
	assert.Equal(t, 0, c.Len())
	c.Close()
}

func TestAwaitSettled(t *testing.T) {
	b := mock.NewBroker()
	c := newCapture(t, b, "#")

	go func() {
		for i := 0; i < 3; i++ {
			b.Inject("tick", []byte("x"), false)
			time.Sleep(10 * time.Millisecond)
		}
	}()
	n, err := c.AwaitSettled(context.Background(), 100*time.Millisecond, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.AwaitSettled(ctx, time.Second, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReceive(t *testing.T) {
	b := mock.NewBroker()
	c := newCapture(t, b, "#")
	require.NoError(t, c.Receive(context.Background(), 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.Receive(ctx, time.Minute))
}

func TestAssertions(t *testing.T) {
	b := mock.NewBroker()
	c := newCapture(t, b, "#")
	b.Inject("jeedom/status", []byte("offline"), true)
	b.Inject("lamp/set", []byte("on"), false)
	b.Inject("jeedom/status", []byte("online"), true)

	assert.NoError(t, c.AssertMessages([]Expected{
		{Topic: "jeedom/status", Payload: "offline"},
		{Topic: "lamp/set", Payload: "on"},
		{Topic: "jeedom/status", Payload: "online"},
	}))
	assert.NoError(t, c.AssertPayloads("jeedom/status", []string{"offline", "online"}))
	assert.NoError(t, c.AssertHasTopic("lamp/+"))
	assert.NoError(t, c.AssertNotHasTopic("lamp/get"))

	err := c.AssertMessages(StatusMessages("jeedom/status", []string{"online"}))
	var ee *ExpectationError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, err.Error(), "want [jeedom/status online]")
	assert.Len(t, ee.Got, 3)

	assert.Error(t, c.AssertNotHasTopic("lamp/set"))
	assert.Error(t, c.AssertHasTopic("lamp/get"))
	assert.Error(t, c.AssertPayloads("jeedom/status", []string{"online"}))
}

func TestDaemonRestartStatusMessages(t *testing.T) {
	b := mock.NewBroker()
	j, err := mock.NewJeedom(mock.JeedomConfig{})
	require.NoError(t, err)
	t.Cleanup(j.Close)
	_, err = j.AddBroker(mock.BrokerParams{Name: "host", ClientID: "jeedom", MQTT: b})
	require.NoError(t, err)

	c := newCapture(t, b, "jeedom/status")
	require.NoError(t, c.AssertPayloads("jeedom/status", []string{model.StatusOnline}))
	c.Reset()

	require.NoError(t, j.SetConfiguration("host", "host", model.ConfQoS, "0"))
	want := model.ExpectedStatusMessages(model.DaemonOK, model.DaemonOK, false, true)
	assert.NoError(t, c.AssertPayloads("jeedom/status", want))

	c.Reset()
	require.NoError(t, j.SetEnabled("host", "host", false))
	want = model.ExpectedStatusMessages(model.DaemonOK, model.DaemonNOK, true, false)
	assert.NoError(t, c.AssertPayloads("jeedom/status", want))
}
