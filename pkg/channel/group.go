package channel

import (
	"fmt"

	"github.com/domotruc/jmqtt-test/pkg/model"
)

// Group splits a flat eqLogic::byType result into one list per broker.
//
// A broker is the document whose id equals its own configuration.brkId;
// every other document belongs to the broker named by its brkId. Each list
// is sorted broker first, then by natural case-insensitive name.
func Group(flat []model.Doc) (model.Snapshot, error) {
	names := make(map[string]string)
	for _, d := range flat {
		if isBroker(d) {
			names[d.Str("id")] = d.Str("name")
		}
	}

	snap := make(model.Snapshot, len(names))
	for _, d := range flat {
		brkID := d.Sub("configuration").Str(model.ConfBrkID)
		name, ok := names[brkID]
		if !ok {
			return nil, fmt.Errorf("equipment %q (id %s) references unknown broker id %q",
				d.Str("name"), d.Str("id"), brkID)
		}
		snap[name] = append(snap[name], d)
	}
	for _, docs := range snap {
		SortDocs(docs)
	}
	return snap, nil
}

// Filter keeps only broker in snap. An empty broker keeps everything.
func Filter(snap model.Snapshot, broker string) model.Snapshot {
	if broker == "" {
		return snap
	}
	out := make(model.Snapshot, 1)
	if docs, ok := snap[broker]; ok {
		out[broker] = docs
	}
	return out
}

func isBroker(d model.Doc) bool {
	id := d.Str("id")
	return id != "" && d.Sub("configuration").Str(model.ConfBrkID) == id
}
