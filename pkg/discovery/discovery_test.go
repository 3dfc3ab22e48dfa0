package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(instance, host string, port int, ips ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, Domain)
	e.HostName = host
	e.Port = port
	for _, ip := range ips {
		parsed := net.ParseIP(ip)
		if parsed.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, parsed)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, parsed)
		}
	}
	return e
}

// announce returns a BrowseFunc sending the given entries then waiting for
// the end of the browse.
func announce(added []*zeroconf.ServiceEntry, gone ...*zeroconf.ServiceEntry) BrowseFunc {
	return func(ctx context.Context, service string, entries, removed chan *zeroconf.ServiceEntry) error {
		for _, e := range added {
			select {
			case entries <- e:
			case <-ctx.Done():
				return nil
			}
		}
		for _, e := range gone {
			select {
			case removed <- e:
			case <-ctx.Done():
				return nil
			}
		}
		<-ctx.Done()
		return nil
	}
}

func TestFind(t *testing.T) {
	b := NewBrowser(BrowserConfig{Browse: announce([]*zeroconf.ServiceEntry{
		entry("mosquitto-lab", "lab.local.", 1883, "192.168.1.20"),
		entry("mosquitto-local", "jeedom.local.", 1884, "fe80::1", "192.168.1.10"),
	})})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := b.Find(ctx, "mosquitto-local")
	require.NoError(t, err)
	assert.Equal(t, "jeedom.local.", got.Host)
	assert.Equal(t, 1884, got.Port)
	assert.Equal(t, "192.168.1.10", got.Address())

	first, err := b.Find(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "mosquitto-lab", first.Instance)
}

func TestFindNotFound(t *testing.T) {
	b := NewBrowser(BrowserConfig{Browse: announce([]*zeroconf.ServiceEntry{
		entry("other", "other.local.", 1883, "10.0.0.2"),
	})})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Find(ctx, "mosquitto")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBrowseMergesInterfaces(t *testing.T) {
	b := NewBrowser(BrowserConfig{Browse: announce([]*zeroconf.ServiceEntry{
		entry("mosquitto", "jeedom.local.", 1883, "192.168.1.10"),
		entry("mosquitto", "jeedom.local.", 1883, "10.8.0.1"),
		entry("emqx", "emqx.local.", 1883, "192.168.1.30"),
	})})

	ctx, cancel := context.WithCancel(context.Background())
	results, err := b.Browse(ctx)
	require.NoError(t, err)

	var names []string
	first := <-results
	names = append(names, first.Instance)
	names = append(names, (<-results).Instance)
	assert.Equal(t, []string{"mosquitto", "emqx"}, names)

	cancel()
	for range results {
	}
	assert.Equal(t, []string{"192.168.1.10", "10.8.0.1"}, first.Addresses)
}

func TestBrowseFailureClosesResults(t *testing.T) {
	b := NewBrowser(BrowserConfig{Browse: func(context.Context, string, chan *zeroconf.ServiceEntry, chan *zeroconf.ServiceEntry) error {
		return errors.New("no multicast")
	}})

	results, err := b.Browse(context.Background())
	require.NoError(t, err)
	select {
	case _, ok := <-results:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("results not closed")
	}
}

func TestStop(t *testing.T) {
	b := NewBrowser(BrowserConfig{Browse: announce(nil)})
	results, err := b.Browse(context.Background())
	require.NoError(t, err)
	b.Stop()
	_, ok := <-results
	assert.False(t, ok)
}

func TestBrokerAddress(t *testing.T) {
	assert.Equal(t, "fe80::1", (&Broker{Addresses: []string{"fe80::1"}}).Address())
	assert.Equal(t, "jeedom.local", (&Broker{Host: "jeedom.local."}).Address())
}

func TestBrokerTXT(t *testing.T) {
	b := &Broker{Text: []string{"version=2.0.18", "tls"}}
	v, ok := b.TXT("version")
	assert.True(t, ok)
	assert.Equal(t, "2.0.18", v)
	_, ok = b.TXT("tls")
	assert.False(t, ok)
	_, ok = b.TXT("missing")
	assert.False(t, ok)
}

func TestRemoveAddresses(t *testing.T) {
	assert.Equal(t, []string{"b"}, removeAddresses([]string{"a", "b"}, []string{"a", "c"}))
	assert.Equal(t, []string{"a", "b", "c"}, mergeAddresses([]string{"a", "b"}, []string{"b", "c"}))
}
