package refstore

import (
	"github.com/domotruc/jmqtt-test/pkg/model"
)

// IDKey is the identity key of every entity document.
const IDKey = "id"

// Align projects actual onto the key set of ref and resolves ids.
//
// Keys of actual that ref lacks are dropped, at every nesting level. Nested
// objects present on both sides are aligned recursively, and so are lists of
// objects, element by element. List elements past the length of the ref
// list are dropped. When ref has an empty id, the id of actual
// is copied into ref. A non-empty ref id is never replaced.
//
// The returned document is a new value; actual is not modified.
func Align(ref, actual model.Doc) model.Doc {
	out := make(model.Doc, len(ref))
	for k, av := range actual {
		rv, ok := ref[k]
		if !ok {
			continue
		}
		if k == IDKey && isEmptyID(rv) {
			ref[k] = av
		}
		out[k] = alignValue(rv, av)
	}
	return out
}

func alignValue(rv, av any) any {
	if rm, am := asDoc(rv), asDoc(av); rm != nil && am != nil {
		return Align(rm, am)
	}
	rl, rok := rv.([]any)
	al, aok := av.([]any)
	if rok && aok {
		// Elements past the end of ref are not tracked.
		out := make([]any, 0, min(len(al), len(rl)))
		for i, e := range al[:min(len(al), len(rl))] {
			out = append(out, alignValue(rl[i], e))
		}
		return out
	}
	return av
}

func asDoc(v any) model.Doc {
	switch x := v.(type) {
	case model.Doc:
		return x
	case map[string]any:
		return model.Doc(x)
	}
	return nil
}

func isEmptyID(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	}
	return false
}

// ResolvedID returns the id Align copied into ref, or "" when ref has none.
func ResolvedID(ref model.Doc) string {
	return ref.Str(IDKey)
}
