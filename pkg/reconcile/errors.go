package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/domotruc/jmqtt-test/pkg/channel"
)

// MismatchError reports the first divergence between the reference model
// and the state read through a channel.
type MismatchError struct {
	Channel channel.ID
	Broker  string

	// Entity names what diverged: "brokers", "equipment <name>",
	// "command <eqpt>/<name>", "cards".
	Entity string
	Reason string

	// Diff is a unified diff from the expected to the actual document.
	Diff string
}

func (e *MismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Channel)
	if e.Broker != "" {
		fmt.Fprintf(&b, " broker %s", e.Broker)
	}
	fmt.Fprintf(&b, ": %s: %s", e.Entity, e.Reason)
	if e.Diff != "" {
		b.WriteString("\n")
		b.WriteString(e.Diff)
	}
	return b.String()
}

// diff renders want and got as indented JSON and returns their unified
// diff. Map keys are sorted by the encoder, so equal documents give an
// empty diff.
func diff(want, got any) string {
	w, err := json.MarshalIndent(want, "", "  ")
	if err != nil {
		return fmt.Sprintf("expected: %#v\nactual:   %#v", want, got)
	}
	g, err := json.MarshalIndent(got, "", "  ")
	if err != nil {
		return fmt.Sprintf("expected: %#v\nactual:   %#v", want, got)
	}
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(w) + "\n"),
		B:        difflib.SplitLines(string(g) + "\n"),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  2,
	})
	if err != nil {
		return fmt.Sprintf("expected: %s\nactual:   %s", w, g)
	}
	return out
}
