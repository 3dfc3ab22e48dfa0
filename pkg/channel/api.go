package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/domotruc/jmqtt-test/pkg/model"
	"github.com/domotruc/jmqtt-test/pkg/version"
)

// PluginType is the eqType_name of every jMQTT equipment.
const PluginType = "jMQTT"

// Caller performs one API call and returns its raw result. Implementations
// return an *ErrorEnvelope when the plugin answers with an error and wrap
// ErrNoResponse when nothing comes back.
type Caller interface {
	Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error)
}

// API exposes the plugin API over any Caller.
type API struct {
	id     ID
	caller Caller

	mu      sync.Mutex
	version version.Jeedom
}

// NewAPI creates an API channel named id.
func NewAPI(id ID, caller Caller) *API {
	return &API{id: id, caller: caller}
}

// Name returns the channel id.
func (a *API) Name() ID { return a.id }

// SetVersion fixes the Jeedom version used to pick method names, skipping
// the version query.
func (a *API) SetVersion(v version.Jeedom) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.version = v
}

func (a *API) call(ctx context.Context, method string, params map[string]any, out any) error {
	raw, err := a.caller.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return NoResponse(a.id, method)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode result: %w", a.id, method, err)
	}
	return nil
}

func (a *API) docs(ctx context.Context, method string, params map[string]any) ([]model.Doc, error) {
	var raw json.RawMessage
	if err := a.call(ctx, method, params, &raw); err != nil {
		return nil, err
	}
	docs, err := model.DecodeDocs(raw)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", a.id, method, err)
	}
	return docs, nil
}

// FetchEquipments returns the jMQTT equipment grouped per broker.
func (a *API) FetchEquipments(ctx context.Context, broker string) (model.Snapshot, error) {
	flat, err := a.docs(ctx, "eqLogic::byType", map[string]any{"type": PluginType})
	if err != nil {
		return nil, err
	}
	snap, err := Group(flat)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.id, err)
	}
	return Filter(snap, broker), nil
}

// FetchCommands returns the commands of an equipment.
func (a *API) FetchCommands(ctx context.Context, eqID string) ([]model.Doc, error) {
	return a.docs(ctx, "cmd::byEqLogicId", map[string]any{"eqLogic_id": eqID})
}

// FetchEquipment returns one equipment.
func (a *API) FetchEquipment(ctx context.Context, eqID string) (model.Doc, error) {
	var raw json.RawMessage
	if err := a.call(ctx, "eqLogic::byId", map[string]any{"id": eqID}, &raw); err != nil {
		return nil, err
	}
	return model.DecodeDoc(raw)
}

// FetchObjects returns the Jeedom objects.
func (a *API) FetchObjects(ctx context.Context) ([]model.Doc, error) {
	v, err := a.Version(ctx)
	if err != nil {
		return nil, err
	}
	return a.docs(ctx, v.APIMethod("object::all"), nil)
}

// Version returns the Jeedom core version, querying it on first use.
func (a *API) Version(ctx context.Context) (version.Jeedom, error) {
	a.mu.Lock()
	v := a.version
	a.mu.Unlock()
	if !v.IsZero() {
		return v, nil
	}

	var s string
	if err := a.call(ctx, "version", nil, &s); err != nil {
		return version.Jeedom{}, err
	}
	v, err := version.Parse(s)
	if err != nil {
		return version.Jeedom{}, err
	}
	a.SetVersion(v)
	return v, nil
}

// Ping checks the API answers "pong".
func (a *API) Ping(ctx context.Context) error {
	var s string
	if err := a.call(ctx, "ping", nil, &s); err != nil {
		return err
	}
	if s != "pong" {
		return fmt.Errorf("%s ping: unexpected answer %q", a.id, s)
	}
	return nil
}

// ExecCmd executes a command. options carries the slider or message values.
func (a *API) ExecCmd(ctx context.Context, cmdID string, options map[string]any) (json.RawMessage, error) {
	params := map[string]any{"id": cmdID}
	if len(options) > 0 {
		params["options"] = options
	}
	var raw json.RawMessage
	if err := a.call(ctx, "cmd::execCmd", params, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// LogList returns the log files whose name matches filter.
func (a *API) LogList(ctx context.Context, filter string) ([]string, error) {
	var params map[string]any
	if filter != "" {
		params = map[string]any{"filtre": filter}
	}
	var files []string
	if err := a.call(ctx, "log::list", params, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// RemoveAllEqpts deletes every jMQTT equipment that is not a broker.
func (a *API) RemoveAllEqpts(ctx context.Context) error {
	return a.call(ctx, "jMQTT::removeAllEqpts", nil, nil)
}

var _ Channel = (*API)(nil)
