package mqttapi

import (
	"fmt"
	"sync"
)

// Pool holds one lazily created Client per broker.
type Pool struct {
	mu      sync.Mutex
	configs map[string]Config
	clients map[string]*Client
}

// NewPool creates a Pool from per-broker configurations.
func NewPool(configs map[string]Config) *Pool {
	p := &Pool{configs: make(map[string]Config, len(configs)), clients: make(map[string]*Client)}
	for name, cfg := range configs {
		cfg.Broker = name
		p.configs[name] = cfg
	}
	return p
}

// Set adds or replaces the configuration of broker, closing its current
// client so the next Get reconnects with the new settings.
func (p *Pool) Set(broker string, cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg.Broker = broker
	p.configs[broker] = cfg
	if c, ok := p.clients[broker]; ok {
		c.Close()
		delete(p.clients, broker)
	}
}

// Get returns the client of broker, creating it on first use.
func (p *Pool) Get(broker string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[broker]; ok {
		return c, nil
	}
	cfg, ok := p.configs[broker]
	if !ok {
		return nil, fmt.Errorf("mqttapi: no configuration for broker %q", broker)
	}
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	p.clients[broker] = c
	return c, nil
}

// Close closes every client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, c := range p.clients {
		c.Close()
		delete(p.clients, name)
	}
}
