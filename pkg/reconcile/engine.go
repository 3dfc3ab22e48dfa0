// Package reconcile compares the reference model with the live plugin.
//
// An Engine reads the equipment and commands through one channel, aligns
// each live document on the reference document of the same entity, binds
// the ids the plugin assigned, and reports the first divergence as a
// *MismatchError. Comparison is typed structural equality after the
// alignment and the normalization of current values.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/domotruc/jmqtt-test/pkg/channel"
	"github.com/domotruc/jmqtt-test/pkg/dom"
	"github.com/domotruc/jmqtt-test/pkg/metrics"
	"github.com/domotruc/jmqtt-test/pkg/model"
	"github.com/domotruc/jmqtt-test/pkg/refstore"
)

// DefaultLastCommunicationTolerance bounds the gap between an expected
// and a reported last communication date.
const DefaultLastCommunicationTolerance = 2 * time.Second

// Config configures an Engine.
type Config struct {
	Store *refstore.Store

	// JSONRPC reads through the JSON-RPC API.
	JSONRPC channel.Channel

	// MQTT returns the MQTT API channel of a broker.
	MQTT func(broker string) (channel.Channel, error)

	// DOM reads the plugin page. Visual checks are skipped without it.
	DOM *dom.Adapter

	// Location is the time zone of the Jeedom host. Defaults to time.Local.
	Location *time.Location

	// LastCommunicationTolerance defaults to
	// DefaultLastCommunicationTolerance.
	LastCommunicationTolerance time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Engine reconciles the reference store with the live plugin.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.LastCommunicationTolerance <= 0 {
		cfg.LastCommunicationTolerance = DefaultLastCommunicationTolerance
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger.With("component", "reconcile")}
}

// Store returns the reference store.
func (e *Engine) Store() *refstore.Store { return e.cfg.Store }

// Assert reads the equipment of broker, or of every broker when broker is
// empty, through ch and compares them with the reference store. With
// checkVisual the plugin page cards are compared too.
//
// Reading through the MQTT API queries the API of each targeted broker in
// turn. Any other channel first settles the mirrored API commands.
func (e *Engine) Assert(ctx context.Context, ch channel.ID, broker string, checkVisual bool) error {
	start := time.Now()
	err := e.assert(ctx, ch, broker, checkVisual)

	result := metrics.ResultPass
	var mismatch *MismatchError
	switch {
	case errors.As(err, &mismatch):
		result = metrics.ResultFail
	case err != nil:
		result = metrics.ResultError
	}
	took := time.Since(start)
	e.cfg.Metrics.ObserveAssertion(string(ch), result, took)
	e.logger.Debug("assert", "channel", ch, "broker", broker, "visual", checkVisual, "result", result, "took", took)
	return err
}

func (e *Engine) assert(ctx context.Context, ch channel.ID, broker string, checkVisual bool) error {
	brokers, err := e.targets(broker)
	if err != nil {
		return err
	}

	switch ch {
	case channel.MQTT:
		if e.cfg.MQTT == nil {
			return fmt.Errorf("reconcile: no %s channel", ch)
		}
		for _, b := range brokers {
			c, err := e.cfg.MQTT(b.Name)
			if err != nil {
				return err
			}
			if err := e.assertThrough(ctx, c, broker, brokers); err != nil {
				return err
			}
		}
	case channel.JSONRPC:
		if e.cfg.JSONRPC == nil {
			return fmt.Errorf("reconcile: no %s channel", ch)
		}
		if err := e.cfg.Store.SettleMirrors(); err != nil {
			return err
		}
		if err := e.assertThrough(ctx, e.cfg.JSONRPC, broker, brokers); err != nil {
			return err
		}
	case channel.DOM:
		if e.cfg.DOM == nil {
			return fmt.Errorf("reconcile: no %s channel", ch)
		}
		return e.assertCards(ctx, brokers)
	default:
		return fmt.Errorf("reconcile: unknown channel %q", ch)
	}

	if !checkVisual {
		return nil
	}
	if e.cfg.DOM == nil {
		e.logger.Debug("visual check skipped, no page")
		return nil
	}
	return e.assertCards(ctx, brokers)
}

func (e *Engine) targets(broker string) ([]*model.Broker, error) {
	if broker == "" {
		return e.cfg.Store.Brokers(), nil
	}
	b, err := e.cfg.Store.Broker(broker)
	if err != nil {
		return nil, err
	}
	return []*model.Broker{b}, nil
}

func (e *Engine) assertThrough(ctx context.Context, c channel.Channel, filter string, brokers []*model.Broker) error {
	var name string
	if filter != "" {
		name = brokers[0].EquipmentName()
	}
	snap, err := c.FetchEquipments(ctx, name)
	if err != nil {
		return err
	}

	want := make([]string, len(brokers))
	for i, b := range brokers {
		want[i] = b.EquipmentName()
	}
	if got := channel.BrokerNames(snap); !slices.Equal(want, got) {
		return &MismatchError{Channel: c.Name(), Entity: "brokers", Reason: "broker list differs", Diff: diff(want, got)}
	}

	for _, b := range brokers {
		docs := snap[b.EquipmentName()]
		if want, got := equipmentNames(b.Eqpts), docNames(docs); !slices.Equal(want, got) {
			return &MismatchError{Channel: c.Name(), Broker: b.Name, Entity: "equipment list", Reason: "equipment differ", Diff: diff(want, got)}
		}
		for i, eq := range b.Eqpts {
			if err := e.assertEquipment(ctx, c, b, eq, docs[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) assertEquipment(ctx context.Context, c channel.Channel, b *model.Broker, eq *model.Equipment, actual model.Doc) error {
	ref, err := model.ToDoc(eq)
	if err != nil {
		return err
	}
	refstore.Align(ref, actual)
	if id := refstore.ResolvedID(ref); id != "" && eq.ID == "" {
		if eq.IsBroker() {
			b.SetID(id)
		} else {
			eq.SetIDIfEmpty(id)
			eq.SetCmdEqLogicID()
		}
		e.logger.Debug("equipment id bound", "broker", b.Name, "name", eq.Name, "id", id)
	}

	if ref, err = model.ToDoc(eq); err != nil {
		return err
	}
	got := refstore.Align(ref, actual)
	if w, g := plain(ref), plain(got); !assert.ObjectsAreEqual(w, g) {
		return &MismatchError{Channel: c.Name(), Broker: b.Name, Entity: "equipment " + eq.Name, Reason: "fields differ", Diff: diff(w, g)}
	}

	cdocs, err := c.FetchCommands(ctx, eq.ID)
	if err != nil {
		return err
	}
	if want, got := commandNames(eq.Cmds), docNames(cdocs); !slices.Equal(want, got) {
		return &MismatchError{Channel: c.Name(), Broker: b.Name, Entity: "commands of " + eq.Name, Reason: "command list differs", Diff: diff(want, got)}
	}
	for i, cmd := range eq.Cmds {
		if err := e.assertCommand(c, b, eq, cmd, cdocs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) assertCommand(c channel.Channel, b *model.Broker, eq *model.Equipment, cmd *model.Command, actual model.Doc) error {
	ref, err := model.ToDoc(cmd)
	if err != nil {
		return err
	}
	refstore.Align(ref, actual)
	if id := refstore.ResolvedID(ref); id != "" {
		cmd.SetIDIfEmpty(id)
	}
	if ref, err = model.ToDoc(cmd); err != nil {
		return err
	}
	got := refstore.Align(ref, actual)
	ref.NormalizeCurrentValue()
	got.NormalizeCurrentValue()
	if w, g := plain(ref), plain(got); !assert.ObjectsAreEqual(w, g) {
		return &MismatchError{Channel: c.Name(), Broker: b.Name, Entity: "command " + eq.Name + "/" + cmd.Name, Reason: "fields differ", Diff: diff(w, g)}
	}
	return nil
}

// assertCards compares the cards of the plugin page with the display
// projection of each broker.
func (e *Engine) assertCards(ctx context.Context, brokers []*model.Broker) error {
	for _, b := range brokers {
		if b.ID() == "" {
			return fmt.Errorf("reconcile: broker %s has no id yet, reconcile it through an API first", b.Name)
		}
		want, err := e.cfg.Store.DisplayCards(b.Name)
		if err != nil {
			return err
		}
		got, err := e.cfg.DOM.Cards(ctx, b.ID())
		if err != nil {
			return err
		}
		if !assert.ObjectsAreEqual(want, got) {
			return &MismatchError{Channel: channel.DOM, Broker: b.Name, Entity: "cards", Reason: "equipment cards differ", Diff: diff(want, got)}
		}
	}
	return nil
}

// AssertCmdPanel compares the command table of the equipment page, which
// must show eqpt, with the reference commands.
func (e *Engine) AssertCmdPanel(ctx context.Context, broker, eqpt string) error {
	if e.cfg.DOM == nil {
		return fmt.Errorf("reconcile: no %s channel", channel.DOM)
	}
	eq, err := e.cfg.Store.Equipment(broker, eqpt)
	if err != nil {
		return err
	}
	got, err := e.cfg.DOM.CommandNames(ctx)
	if err != nil {
		return err
	}
	if want := commandNames(eq.Cmds); !slices.Equal(want, got) {
		return &MismatchError{Channel: channel.DOM, Broker: broker, Entity: "command panel of " + eqpt, Reason: "commands differ", Diff: diff(want, got)}
	}
	return nil
}

// AssertLastCommunication checks that the last communication date of an
// equipment read through the JSON-RPC API is within the tolerance of ref.
func (e *Engine) AssertLastCommunication(ctx context.Context, broker, eqpt string, ref time.Time) error {
	if e.cfg.JSONRPC == nil {
		return fmt.Errorf("reconcile: no %s channel", channel.JSONRPC)
	}
	eq, err := e.cfg.Store.Equipment(broker, eqpt)
	if err != nil {
		return err
	}
	if eq.ID == "" {
		return fmt.Errorf("reconcile: equipment %s/%s has no id yet", broker, eqpt)
	}
	doc, err := e.cfg.JSONRPC.FetchEquipment(ctx, eq.ID)
	if err != nil {
		return err
	}
	raw := doc.Sub("status").Str("lastCommunication")
	mismatch := &MismatchError{
		Channel: channel.JSONRPC,
		Broker:  broker,
		Entity:  "equipment " + eqpt,
	}
	if raw == "" {
		mismatch.Reason = "no last communication date"
		return mismatch
	}
	got, err := time.ParseInLocation(model.LastCommunicationLayout, raw, e.cfg.Location)
	if err != nil {
		mismatch.Reason = fmt.Sprintf("invalid last communication date %q", raw)
		return mismatch
	}
	if gap := got.Sub(ref).Abs(); gap > e.cfg.LastCommunicationTolerance {
		mismatch.Reason = fmt.Sprintf("last communication %s is %s away from %s",
			raw, gap, ref.In(e.cfg.Location).Format(model.LastCommunicationLayout))
		return mismatch
	}
	return nil
}

func equipmentNames(eqs []*model.Equipment) []string {
	out := make([]string, len(eqs))
	for i, e := range eqs {
		out[i] = e.Name
	}
	return out
}

func commandNames(cmds []*model.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Name
	}
	return out
}

func docNames(docs []model.Doc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Str("name")
	}
	return out
}

// plain converts nested Doc values to map[string]any so that documents
// built by ToDoc and by Align compare equal.
func plain(v any) any {
	switch x := v.(type) {
	case model.Doc:
		return plainMap(x)
	case map[string]any:
		return plainMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}
