package discovery

import (
	"errors"
	"net"
	"strings"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of MQTT brokers.
	ServiceType = "_mqtt._tcp"

	// ServiceTypeTLS is the service type of brokers accepting TLS only.
	ServiceTypeTLS = "_secure-mqtt._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// BrowseTimeout bounds Find when the context has no deadline.
	BrowseTimeout = 5 * time.Second
)

var (
	ErrNotFound = errors.New("broker not found")
)

// Broker is an MQTT broker seen on the network.
type Broker struct {
	Instance  string
	Host      string
	Port      int
	Addresses []string

	// Text holds the TXT record strings of the announcement.
	Text []string
}

// Address returns the address to connect to: the first IPv4 address, then
// the first IPv6 address, then the host name.
func (b *Broker) Address() string {
	for _, a := range b.Addresses {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	if len(b.Addresses) > 0 {
		return b.Addresses[0]
	}
	return strings.TrimSuffix(b.Host, ".")
}

// TXT returns the value of a key=value TXT record.
func (b *Broker) TXT(key string) (string, bool) {
	for _, t := range b.Text {
		k, v, found := strings.Cut(t, "=")
		if k == key {
			return v, found
		}
	}
	return "", false
}

// mergeAddresses adds new addresses to existing, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a] = true
	}
	for _, a := range added {
		if !seen[a] {
			existing = append(existing, a)
			seen[a] = true
		}
	}
	return existing
}

// removeAddresses returns addresses without the ones in gone.
func removeAddresses(addresses, gone []string) []string {
	drop := make(map[string]bool, len(gone))
	for _, a := range gone {
		drop[a] = true
	}
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if !drop[a] {
			out = append(out, a)
		}
	}
	return out
}
