package reconcile

import "context"

// ActionDriver performs on the live system the action a step has mirrored
// in the reference store: a click in the plugin page, an API call, a
// message on a broker. Brokers and equipment are named as the plugin shows
// them.
type ActionDriver interface {
	AddBroker(ctx context.Context, name, address string, port int, clientID string) error
	DeleteBroker(ctx context.Context, name string) error

	AddEquipment(ctx context.Context, broker, name, topic string, enabled bool) error
	DeleteEquipment(ctx context.Context, broker, name string) error
	RenameEquipment(ctx context.Context, broker, oldName, newName string) error
	SetTopic(ctx context.Context, broker, eqpt, topic string) error
	SetEnabled(ctx context.Context, broker, eqpt string, enabled bool) error
	SetAutoAddCmd(ctx context.Context, broker, eqpt string, enabled bool) error
	SetConfiguration(ctx context.Context, broker, eqpt, key, value string) error
	ShowEquipment(ctx context.Context, broker, eqpt string) error

	// AddActionCmd creates an action command and returns its id.
	AddActionCmd(ctx context.Context, broker, eqpt, name, topic, subtype, request string, retain bool) (string, error)
	// AddJSONCommand creates a command bound to a JSON path of parent and
	// returns its id.
	AddJSONCommand(ctx context.Context, broker, eqpt, parent string, keys []string, name string) (string, error)
	DeleteCommand(ctx context.Context, broker, eqpt, name string) error
	MoveCommand(ctx context.Context, broker, eqpt, name string, to int) error
	SetRetain(ctx context.Context, broker, eqpt, cmd string, retain bool) error
	// TestCommand runs an action command from the command table.
	TestCommand(ctx context.Context, broker, eqpt, cmd string) error

	SetIncludeMode(ctx context.Context, broker string, on bool) error
}
