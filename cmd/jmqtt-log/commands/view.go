// Package commands implements the jmqtt-log CLI commands.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/domotruc/jmqtt-test/pkg/log"
)

// maxPayload bounds the payload bytes printed by view.
const maxPayload = 512

const timeLayout = "2006-01-02T15:04:05.000000Z"

// RunView prints the events of path matching filter.
func RunView(path string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// eventType labels an event by its payload.
func eventType(event log.Event) string {
	switch {
	case event.Message != nil:
		return event.Message.Type.String()
	case event.StateChange != nil:
		return "STATE"
	case event.Error != nil:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format(timeLayout)
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s", ts, shortenConnID(event.ConnectionID),
		event.Direction, event.Channel, eventType(event))
	if event.Broker != "" {
		fmt.Fprintf(w, " broker=%s", event.Broker)
	}
	fmt.Fprintln(w)

	switch {
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		sc := event.StateChange
		fmt.Fprintf(w, "  %s: %s -> %s\n", sc.Entity, orDash(sc.OldState), sc.NewState)
		if sc.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
		}
	case event.Error != nil:
		e := event.Error
		if e.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", e.Context)
		}
		fmt.Fprintf(w, "  Error: %s", e.Message)
		if e.Code != nil {
			fmt.Fprintf(w, " (code %d)", *e.Code)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	if msg.Method != "" {
		fmt.Fprintf(w, "  Method: %s", msg.Method)
		if msg.RequestID != "" {
			fmt.Fprintf(w, "  Id: %s", msg.RequestID)
		}
		fmt.Fprintln(w)
	}
	if msg.Topic != "" {
		fmt.Fprintf(w, "  Topic: %s", msg.Topic)
		if msg.Retained {
			fmt.Fprint(w, " (retained)")
		}
		fmt.Fprintln(w)
	}
	if msg.Duration != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*msg.Duration))
	}
	if len(msg.Payload) > 0 {
		fmt.Fprintf(w, "  Payload: %s\n", formatPayload(msg.Payload))
	}
}

// formatPayload compacts JSON payloads and quotes binary ones.
func formatPayload(p []byte) string {
	s := string(p)
	if json.Valid(p) {
		var v any
		if err := json.Unmarshal(p, &v); err == nil {
			if b, err := json.Marshal(v); err == nil {
				s = string(b)
			}
		}
	}
	if !utf8.ValidString(s) {
		s = fmt.Sprintf("%q", s)
	}
	if len(s) > maxPayload {
		return s[:maxPayload] + "... (truncated)"
	}
	return s
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	return d.Round(100 * time.Microsecond).String()
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ParseDirectionFlag parses "in" or "out".
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	}
	return 0, fmt.Errorf("invalid direction %q (expected in, out)", s)
}

// ParseChannelFlag parses a channel name.
func ParseChannelFlag(s string) (log.Channel, error) {
	switch strings.ToLower(s) {
	case "jsonrpc":
		return log.ChannelJSONRPC, nil
	case "mqttapi", "mqtt":
		return log.ChannelMQTTAPI, nil
	case "capture":
		return log.ChannelCapture, nil
	case "ui":
		return log.ChannelUI, nil
	}
	return 0, fmt.Errorf("invalid channel %q (expected jsonrpc, mqttapi, capture, ui)", s)
}

// ParseCategoryFlag parses a category name.
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	}
	return 0, fmt.Errorf("invalid category %q (expected message, state, error)", s)
}
