package channel

import (
	"slices"

	"github.com/domotruc/jmqtt-test/pkg/model"
)

// SortDocs sorts equipment documents the way the plugin lists them.
func SortDocs(docs []model.Doc) {
	slices.SortStableFunc(docs, func(a, b model.Doc) int {
		ab, bb := isBroker(a), isBroker(b)
		switch {
		case ab && !bb:
			return -1
		case bb && !ab:
			return 1
		}
		return model.CompareNatural(a.Str("name"), b.Str("name"))
	})
}

// BrokerNames returns the keys of snap in the order brokers are listed.
func BrokerNames(snap model.Snapshot) []string {
	names := make([]string, 0, len(snap))
	for n := range snap {
		names = append(names, n)
	}
	slices.SortFunc(names, model.CompareNatural)
	return names
}
