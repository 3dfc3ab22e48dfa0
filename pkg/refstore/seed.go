package refstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/domotruc/jmqtt-test/pkg/model"
)

// Source reads the live equipment and commands. Every channel adapter
// satisfies it.
type Source interface {
	FetchEquipments(ctx context.Context, broker string) (model.Snapshot, error)
	FetchCommands(ctx context.Context, eqID string) ([]model.Doc, error)
}

// InitFromPlugin seeds the store with the equipment and commands the live
// system currently has, for every broker already added to the store.
// Brokers the live system does not know yet are left as they are.
func (s *Store) InitFromPlugin(ctx context.Context, src Source) error {
	snap, err := src.FetchEquipments(ctx, "")
	if err != nil {
		return fmt.Errorf("init from plugin: %w", err)
	}

	for _, b := range s.brokers {
		docs, ok := snap[b.EquipmentName()]
		if !ok || len(docs) == 0 {
			s.logger.Info("broker not found on live system", "broker", b.Name)
			continue
		}

		if err := s.seedBroker(ctx, src, b, docs); err != nil {
			return fmt.Errorf("init broker %s: %w", b.Name, err)
		}
	}
	s.resort()
	return nil
}

func (s *Store) seedBroker(ctx context.Context, src Source, b *model.Broker, docs []model.Doc) error {
	for _, doc := range docs {
		var e *model.Equipment
		if doc.Sub("configuration").Str(model.ConfBrkID) == doc.Str("id") {
			e = b.Equipment()
		} else if e = b.Find(doc.Str("name")); e == nil {
			e = model.NewEquipment(doc.Str("name"), nil, false)
			b.Eqpts = append(b.Eqpts, e)
		}
		known := e.ID
		if err := decodeInto(doc, e); err != nil {
			return fmt.Errorf("equipment %s: %w", doc.Str("name"), err)
		}
		e.ID = known
		e.SetIDIfEmpty(doc.Str("id"))

		cdocs, err := src.FetchCommands(ctx, doc.Str("id"))
		if err != nil {
			return fmt.Errorf("commands of %s: %w", e.Name, err)
		}
		cmds := make([]*model.Command, 0, len(cdocs))
		for _, cd := range cdocs {
			typ := model.CmdType(cd.Str("type"))
			c := e.Command(cd.Str("name"))
			if c == nil {
				c = model.NewCommand(cd.Str("name"), "", typ, cd.Str("subType"), nil)
			}
			known := c.ID
			if err := decodeInto(cd, c); err != nil {
				return fmt.Errorf("command %s/%s: %w", e.Name, cd.Str("name"), err)
			}
			c.ID = known
			c.SetIDIfEmpty(cd.Str("id"))
			c.CurrentValue = model.NormalizeValue(c.CurrentValue)
			cmds = append(cmds, c)
		}
		e.Cmds = cmds
		model.SortCommands(e.Cmds)
	}

	b.SetID(b.Equipment().ID)
	model.SortEquipments(b.Eqpts)
	s.logger.Debug("broker seeded", "broker", b.Name, "equipments", len(b.Eqpts))
	return nil
}

// decodeInto overlays the fields of doc that v declares onto v.
func decodeInto(doc model.Doc, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
