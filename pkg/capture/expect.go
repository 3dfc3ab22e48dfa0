package capture

import (
	"fmt"
	"strings"
)

// Expected is a message a capture must contain.
type Expected struct {
	Topic   string
	Payload string
}

func (e Expected) String() string { return e.Topic + " " + e.Payload }

// ExpectationError reports captured traffic that does not match.
type ExpectationError struct {
	Filter string
	Want   string
	Got    []Message
}

func (e *ExpectationError) Error() string {
	got := make([]string, len(e.Got))
	for i, m := range e.Got {
		got[i] = m.Topic + " " + string(m.Payload)
	}
	return fmt.Sprintf("capture %s: want %s, got [%s]", e.Filter, e.Want, strings.Join(got, ", "))
}

// StatusMessages returns the expected messages for a sequence of status
// payloads published on statusTopic.
func StatusMessages(statusTopic string, payloads []string) []Expected {
	out := make([]Expected, len(payloads))
	for i, p := range payloads {
		out[i] = Expected{Topic: statusTopic, Payload: p}
	}
	return out
}

// AssertMessages checks that the captured messages are exactly want, in
// order.
func (c *Capture) AssertMessages(want []Expected) error {
	got := c.Messages()
	ok := len(got) == len(want)
	for i := 0; ok && i < len(want); i++ {
		ok = got[i].Topic == want[i].Topic && string(got[i].Payload) == want[i].Payload
	}
	if ok {
		return nil
	}
	w := make([]string, len(want))
	for i, e := range want {
		w[i] = e.String()
	}
	return &ExpectationError{Filter: c.filter, Want: "[" + strings.Join(w, ", ") + "]", Got: got}
}

// AssertPayloads checks the payloads captured on the topics matching
// filter, ignoring other topics.
func (c *Capture) AssertPayloads(filter string, want []string) error {
	got := c.OnTopic(filter)
	ok := len(got) == len(want)
	for i := 0; ok && i < len(want); i++ {
		ok = string(got[i].Payload) == want[i]
	}
	if ok {
		return nil
	}
	return &ExpectationError{Filter: filter, Want: fmt.Sprintf("%q", want), Got: got}
}

// AssertHasTopic checks that a message was captured on filter.
func (c *Capture) AssertHasTopic(filter string) error {
	if c.HasTopic(filter) {
		return nil
	}
	return &ExpectationError{Filter: filter, Want: "a message", Got: c.Messages()}
}

// AssertNotHasTopic checks that no message was captured on filter.
func (c *Capture) AssertNotHasTopic(filter string) error {
	if got := c.OnTopic(filter); len(got) > 0 {
		return &ExpectationError{Filter: filter, Want: "no message", Got: got}
	}
	return nil
}
