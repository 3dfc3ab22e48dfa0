package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// BrowseFunc runs one mDNS browse, sending entries until ctx is done.
type BrowseFunc func(ctx context.Context, service string, entries, removed chan *zeroconf.ServiceEntry) error

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Service defaults to ServiceType.
	Service string

	// Interface restricts browsing to one network interface. Empty means
	// all interfaces.
	Interface string

	// Browse replaces the zeroconf browse, for tests.
	Browse BrowseFunc

	Logger *slog.Logger
}

// Browser browses MQTT brokers with zeroconf.
type Browser struct {
	config BrowserConfig
	logger *slog.Logger

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// NewBrowser creates a Browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.Service == "" {
		config.Service = ServiceType
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Browser{config: config, logger: logger.With("component", "discovery")}
	if b.config.Browse == nil {
		b.config.Browse = b.zeroconfBrowse
	}
	return b
}

func (b *Browser) zeroconfBrowse(ctx context.Context, service string, entries, removed chan *zeroconf.ServiceEntry) error {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err != nil {
			return fmt.Errorf("discovery: interface %s: %w", b.config.Interface, err)
		}
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}
	return zeroconf.Browse(ctx, service, Domain, entries, removed, opts...)
}

// Browse emits every broker the first time it is seen. The channel is
// closed when ctx is done or Stop is called.
func (b *Browser) Browse(ctx context.Context) (<-chan *Broker, error) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()

	out := make(chan *Broker)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)
		brokers := make(map[string]*Broker)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				found := entryToBroker(entry)
				if existing, seen := brokers[found.Instance]; seen {
					existing.Addresses = mergeAddresses(existing.Addresses, found.Addresses)
					continue
				}
				brokers[found.Instance] = found
				b.logger.Debug("broker found", "instance", found.Instance, "host", found.Host, "port", found.Port)
				select {
				case out <- found:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					removed = nil
					continue
				}
				if existing, seen := brokers[entry.Instance]; seen {
					existing.Addresses = removeAddresses(existing.Addresses, entryToBroker(entry).Addresses)
					if len(existing.Addresses) == 0 {
						delete(brokers, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := b.config.Browse(ctx, b.config.Service, entries, removed); err != nil {
			b.logger.Warn("browse failed", "service", b.config.Service, "error", err)
			cancel()
		}
	}()
	return out, nil
}

// Find returns the broker announced under instance, or the first broker
// found when instance is empty. Without a deadline on ctx the search stops
// after BrowseTimeout.
func (b *Browser) Find(ctx context.Context, instance string) (*Broker, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, BrowseTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for br := range results {
		if instance == "" || br.Instance == instance {
			return br, nil
		}
	}
	if instance == "" {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, instance)
}

// Stop stops every running browse.
func (b *Browser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
}

func entryToBroker(entry *zeroconf.ServiceEntry) *Broker {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return &Broker{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
		Text:      entry.Text,
	}
}
