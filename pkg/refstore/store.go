// Package refstore holds the expected state of the jMQTT entities.
//
// A Store mirrors every action a test performs on the system under test:
// adding brokers and equipment, receiving or sending MQTT messages, editing
// configuration, deleting entities. The reconciliation engine compares it
// with the state read back from the live system.
//
// Every lookup by name fails with an error wrapping ErrNotFound when the
// entity is missing. Such an error is a defect of the calling test, not a
// condition to recover from.
package refstore

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/domotruc/jmqtt-test/pkg/model"
	"github.com/domotruc/jmqtt-test/pkg/version"
)

// ErrNotFound is returned when a broker, equipment or command is unknown.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when creating an entity whose name is taken.
var ErrExists = errors.New("already exists")

// DefaultHarnessClientID is the MQTT client id the harness uses for API
// requests. An equipment with that name receives the API responses.
const DefaultHarnessClientID = "jmqtt_test"

// Config configures a Store.
type Config struct {
	// Version of the Jeedom core under test. Equipment default order
	// depends on it.
	Version version.Jeedom

	// HarnessClientID is the MQTT client id of the harness API client.
	HarnessClientID string

	// Objects resolves Jeedom object names. Optional.
	Objects ObjectSource

	// Logger for store operations. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the expected state of all brokers.
type Store struct {
	cfg     Config
	logger  *slog.Logger
	brokers []*model.Broker
	objects *Objects

	prevRequest  map[string][]byte
	prevResponse map[string][]byte
}

// New creates an empty store.
func New(cfg Config) *Store {
	if cfg.HarnessClientID == "" {
		cfg.HarnessClientID = DefaultHarnessClientID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:          cfg,
		logger:       logger,
		objects:      NewObjects(cfg.Objects),
		prevRequest:  make(map[string][]byte),
		prevResponse: make(map[string][]byte),
	}
}

// Version returns the Jeedom version the store was configured for.
func (s *Store) Version() version.Jeedom {
	return s.cfg.Version
}

// SetVersion updates the Jeedom version once it is known.
func (s *Store) SetVersion(v version.Jeedom) {
	s.cfg.Version = v
}

// Objects returns the object cache.
func (s *Store) Objects() *Objects {
	return s.objects
}

// Brokers returns the brokers in the order the plugin lists them.
func (s *Store) Brokers() []*model.Broker {
	out := make([]*model.Broker, len(s.brokers))
	copy(out, s.brokers)
	return out
}

// Broker returns the broker known under name.
func (s *Store) Broker(name string) (*model.Broker, error) {
	for _, b := range s.brokers {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("broker %s: %w", name, ErrNotFound)
}

// AddBroker creates a broker with its pseudo-equipment and status command.
// The daemon state starts as ok.
func (s *Store) AddBroker(name, address string, port int, clientID string) (*model.Broker, error) {
	if _, err := s.Broker(name); err == nil {
		return nil, fmt.Errorf("broker %s: %w", name, ErrExists)
	}
	b := model.NewBroker(name, address, port, clientID)
	b.Equipment().Order = s.cfg.Version.DefaultEquipmentOrder()
	s.brokers = append(s.brokers, b)
	model.SortBrokers(s.brokers)
	s.logger.Debug("broker added", "broker", name, "clientId", clientID)
	return b, nil
}

// DeleteBroker removes a broker and all its equipment.
func (s *Store) DeleteBroker(name string) error {
	for i, b := range s.brokers {
		if b.Name == name {
			s.brokers = append(s.brokers[:i:i], s.brokers[i+1:]...)
			delete(s.prevRequest, name)
			delete(s.prevResponse, name)
			return nil
		}
	}
	return fmt.Errorf("broker %s: %w", name, ErrNotFound)
}

// RenameBroker renames the broker equipment. The broker keeps the name it
// is known under in the store.
func (s *Store) RenameBroker(broker, newName string) error {
	b, err := s.Broker(broker)
	if err != nil {
		return err
	}
	return s.RenameEquipment(broker, b.EquipmentName(), newName)
}

// SetBrokerState sets the expected daemon state of a broker.
func (s *Store) SetBrokerState(broker string, state model.DaemonState) error {
	b, err := s.Broker(broker)
	if err != nil {
		return err
	}
	b.SetState(state)
	return nil
}

// BrokerState returns the expected daemon state of a broker.
func (s *Store) BrokerState(broker string) (model.DaemonState, error) {
	b, err := s.Broker(broker)
	if err != nil {
		return "", err
	}
	return b.State, nil
}

// ApplyDaemonEvent moves the broker daemon state machine and returns the
// states before and after the event.
func (s *Store) ApplyDaemonEvent(broker string, ev model.DaemonEvent) (prev, next model.DaemonState, err error) {
	b, err := s.Broker(broker)
	if err != nil {
		return "", "", err
	}
	prev = b.State
	next = prev.Next(ev)
	b.SetState(next)
	s.logger.Debug("daemon state", "broker", broker, "event", ev.String(), "from", prev, "to", next)
	return prev, next, nil
}

// DisplayCards returns the equipment cards the plugin page should show for
// a broker.
func (s *Store) DisplayCards(broker string) ([]model.Card, error) {
	b, err := s.Broker(broker)
	if err != nil {
		return nil, err
	}
	return b.Cards(), nil
}

func (s *Store) resort() {
	model.SortBrokers(s.brokers)
}
