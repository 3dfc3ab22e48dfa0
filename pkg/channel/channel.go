// Package channel defines the contract shared by every way the harness
// observes the plugin: the JSON-RPC API, the MQTT request API and the
// rendered UI.
//
// API clients implement Caller; the API type turns any Caller into a
// Channel that returns equipment grouped per broker in the order the
// plugin itself uses.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/domotruc/jmqtt-test/pkg/model"
)

// ID names a channel.
type ID string

// Channel identifiers.
const (
	JSONRPC ID = "jsonrpc"
	MQTT    ID = "mqtt"
	DOM     ID = "dom"
)

// Channel reads the live entities through one API.
type Channel interface {
	Name() ID

	// FetchEquipments returns the equipment of broker, or of every broker
	// when broker is empty, grouped by broker equipment name.
	FetchEquipments(ctx context.Context, broker string) (model.Snapshot, error)

	// FetchCommands returns the commands of an equipment.
	FetchCommands(ctx context.Context, eqID string) ([]model.Doc, error)

	// FetchEquipment returns one equipment.
	FetchEquipment(ctx context.Context, eqID string) (model.Doc, error)
}

// ErrNoResponse is returned when a call yields nothing at all.
var ErrNoResponse = errors.New("no response")

// ErrorEnvelope is an error returned by the plugin inside a response.
type ErrorEnvelope struct {
	Channel ID
	Method  string
	Code    int
	Message string
}

func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s %s: error %d: %s", e.Channel, e.Method, e.Code, e.Message)
}

// NoResponse wraps ErrNoResponse with the channel and method.
func NoResponse(ch ID, method string) error {
	return fmt.Errorf("%s %s: %w", ch, method, ErrNoResponse)
}
