package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/domotruc/jmqtt-test/pkg/log"
)

// RunExport exports the log file as JSON lines or CSV, to output or to
// stdout when output is empty.
func RunExport(path, format, output string) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

// jsonEvent is the export form of an event: enums as names, payloads as
// text.
type jsonEvent struct {
	Timestamp    string `json:"timestamp"`
	ConnectionID string `json:"connection_id"`
	Direction    string `json:"direction"`
	Channel      string `json:"channel"`
	Category     string `json:"category"`
	Broker       string `json:"broker,omitempty"`
	Remote       string `json:"remote,omitempty"`
	Type         string `json:"type"`
	Method       string `json:"method,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	Topic        string `json:"topic,omitempty"`
	Retained     bool   `json:"retained,omitempty"`
	Payload      string `json:"payload,omitempty"`
	DurationUS   *int64 `json:"duration_us,omitempty"`
	OldState     string `json:"old_state,omitempty"`
	NewState     string `json:"new_state,omitempty"`
	Error        string `json:"error,omitempty"`
}

func toJSONEvent(event log.Event) jsonEvent {
	je := jsonEvent{
		Timestamp:    event.Timestamp.UTC().Format(timeLayout),
		ConnectionID: event.ConnectionID,
		Direction:    event.Direction.String(),
		Channel:      event.Channel.String(),
		Category:     event.Category.String(),
		Broker:       event.Broker,
		Remote:       event.RemoteAddr,
		Type:         eventType(event),
	}
	if m := event.Message; m != nil {
		je.Method = m.Method
		je.RequestID = m.RequestID
		je.Topic = m.Topic
		je.Retained = m.Retained
		je.Payload = string(m.Payload)
		if m.Duration != nil {
			us := m.Duration.Microseconds()
			je.DurationUS = &us
		}
	}
	if sc := event.StateChange; sc != nil {
		je.OldState = sc.OldState
		je.NewState = sc.NewState
	}
	if e := event.Error; e != nil {
		je.Error = e.Message
	}
	return je
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(toJSONEvent(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "connection_id", "direction", "channel", "category", "broker", "type", "method", "topic", "payload", "duration_us"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return cw.Error()
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		je := toJSONEvent(event)
		duration := ""
		if je.DurationUS != nil {
			duration = strconv.FormatInt(*je.DurationUS, 10)
		}
		row := []string{je.Timestamp, je.ConnectionID, je.Direction, je.Channel, je.Category,
			je.Broker, je.Type, je.Method, je.Topic, je.Payload, duration}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
}
