package transport_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domotruc/jmqtt-test/internal/testharness/mock"
	"github.com/domotruc/jmqtt-test/pkg/transport"
)

func fastOptions(b *mock.Broker, clientID string) transport.Options {
	return transport.Options{
		ClientID: clientID,
		Timeout:  time.Second,
		Backoff:  transport.BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond},
		Factory:  b.Factory(),
	}
}

func TestBrokerAddr(t *testing.T) {
	assert.Equal(t, "192.168.1.10:1883", transport.Broker{Host: "192.168.1.10"}.Addr())
	assert.Equal(t, "tcp://[::1]:1884", transport.Broker{Host: "::1", Port: 1884}.URL())
}

func TestDialRetriesRefusedConnects(t *testing.T) {
	b := mock.NewBroker()
	b.RefuseConnects(2)

	conn, err := transport.Dial(context.Background(), transport.Broker{Host: "h"}, fastOptions(b, "jmqtt_test"))
	require.NoError(t, err)
	assert.True(t, conn.IsConnected())
}

func TestDialGivesUp(t *testing.T) {
	b := mock.NewBroker()
	b.SetDown(true)

	opts := fastOptions(b, "jmqtt_test")
	opts.Attempts = 2
	_, err := transport.Dial(context.Background(), transport.Broker{Host: "h"}, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mock.ErrBrokerDown))
	assert.Contains(t, err.Error(), "h:1883")
}

func TestSubscribePublish(t *testing.T) {
	b := mock.NewBroker()
	ctx := context.Background()
	conn, err := transport.Dial(ctx, transport.Broker{Host: "h"}, fastOptions(b, "c1"))
	require.NoError(t, err)

	require.NoError(t, transport.Publish(ctx, conn, "jeedom/status", []byte("online"), true, time.Second))

	var mu sync.Mutex
	var got []transport.Message
	err = transport.Subscribe(ctx, conn, "jeedom/#", time.Second, func(_ paho.Client, m paho.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, transport.FromPaho(m))
	})
	require.NoError(t, err)
	require.NoError(t, transport.Publish(ctx, conn, "jeedom/api", []byte(`{}`), false, time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.True(t, got[0].Retained)
	assert.Equal(t, "online", string(got[0].Payload))
	assert.Equal(t, "jeedom/api", got[1].Topic)
}

func TestWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := transport.Wait(ctx, pendingToken{}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	err = transport.Wait(context.Background(), pendingToken{}, time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

type pendingToken struct{}

func (pendingToken) Wait() bool                     { return false }
func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Done() <-chan struct{}          { return nil }
func (pendingToken) Error() error                   { return nil }

func TestBackoff(t *testing.T) {
	b := transport.NewBackoffWithConfig(transport.BackoffConfig{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond})

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, exp := range expected {
		if base := b.Current(); base != exp {
			t.Errorf("attempt %d: base = %v, want %v", i, base, exp)
		}
		_ = b.Next()
	}
	if b.Attempts() != 4 {
		t.Errorf("attempts = %d, want 4", b.Attempts())
	}

	b.Reset()
	if b.Current() != 100*time.Millisecond || b.Attempts() != 0 {
		t.Error("reset did not restore the initial delay")
	}

	j := transport.NewBackoff()
	for range 10 {
		d := j.Next()
		j.Reset()
		if d < transport.InitialBackoff || d > transport.InitialBackoff+transport.InitialBackoff/10+time.Millisecond {
			t.Errorf("jittered delay %v out of range", d)
		}
	}
}
