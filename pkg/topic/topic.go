// Package topic derives jMQTT command names from MQTT topics and flattens
// JSON payloads into the synthetic sub-topics the plugin creates for them.
package topic

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/crypto/md4"
)

// MaxNameLength is the longest command name the plugin keeps as is. Longer
// names are replaced by their MD4 digest.
const MaxNameLength = 45

// DeriveName returns the name the plugin gives to a command created from a
// message on cmdTopic for an equipment subscribed to eqptTopic.
//
// The name is the part of cmdTopic starting at the first wildcard of
// eqptTopic, or the last level of cmdTopic when eqptTopic has no wildcard.
func DeriveName(eqptTopic, cmdTopic string) string {
	var name string
	if pos := wildcardIndex(eqptTopic); pos < 0 {
		name = cmdTopic[strings.LastIndex(cmdTopic, "/")+1:]
	} else if pos < len(cmdTopic) {
		name = cmdTopic[pos:]
	}

	if len(name) > MaxNameLength {
		sum := md4.New()
		sum.Write([]byte(name))
		name = hex.EncodeToString(sum.Sum(nil))
	}

	return strings.ReplaceAll(name, "/", ":")
}

func wildcardIndex(t string) int {
	pos := -1
	for _, w := range []string{"#", "+"} {
		if i := strings.Index(t, w); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}
	return pos
}

// JSONPath appends each key to base in the plugin's JSON path notation:
// JSONPath("lamp", "color", "y") is "lamp{color}{y}".
func JSONPath(base string, keys ...string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, k := range keys {
		b.WriteByte('{')
		b.WriteString(k)
		b.WriteByte('}')
	}
	return b.String()
}

// Leaf is one node of a flattened payload.
type Leaf struct {
	// Topic is the synthetic topic of the node (JSONPath of Keys).
	Topic string

	// Keys is the path from the payload root. Empty for the root itself.
	Keys []string

	// Value is nil, a bool, a string or a json.Number for scalar nodes, and
	// the raw JSON text for objects and arrays.
	Value any

	// Object is true for JSON object nodes.
	Object bool
}

// Flatten walks payload and returns the root node followed by every object
// and scalar node of the document, depth first and in document key order.
// A payload that is not a JSON object yields the root node only, with the
// payload as its string value.
func Flatten(base string, payload []byte) []Leaf {
	root := Leaf{Topic: base, Value: string(payload)}
	if !gjson.ValidBytes(payload) {
		return []Leaf{root}
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return []Leaf{root}
	}

	root.Object = true
	leaves := []Leaf{root}
	return flattenInto(leaves, base, nil, doc)
}

func flattenInto(leaves []Leaf, base string, parent []string, obj gjson.Result) []Leaf {
	obj.ForEach(func(key, value gjson.Result) bool {
		keys := make([]string, len(parent)+1)
		copy(keys, parent)
		keys[len(parent)] = key.String()

		leaf := Leaf{Topic: JSONPath(base, keys...), Keys: keys, Value: scalar(value)}
		if value.IsObject() {
			leaf.Object = true
			leaves = append(leaves, leaf)
			leaves = flattenInto(leaves, base, keys, value)
			return true
		}
		leaves = append(leaves, leaf)
		return true
	})
	return leaves
}

func scalar(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Number:
		return json.Number(r.Raw)
	case gjson.String:
		return r.String()
	default:
		return r.Raw
	}
}

// TruncateWildcard removes a trailing multi or single level wildcard from a
// subscription topic: "jeedom/#" becomes "jeedom/".
func TruncateWildcard(t string) string {
	if strings.HasSuffix(t, "#") || strings.HasSuffix(t, "+") {
		return t[:len(t)-1]
	}
	return t
}

// Match reports whether topic matches the MQTT subscription filter.
func Match(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		switch {
		case f == "#":
			return true
		case i >= len(tl):
			return false
		case f != "+" && f != tl[i]:
			return false
		}
	}
	return len(fl) == len(tl)
}
