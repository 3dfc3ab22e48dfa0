package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/domotruc/jmqtt-test/pkg/log"
)

var base = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mlog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	return path
}

func sampleEvents() []log.Event {
	took := 42 * time.Millisecond
	return []log.Event{
		{
			Timestamp: base, ConnectionID: "rpc-0001-aaaa", Direction: log.DirectionOut,
			Channel: log.ChannelJSONRPC, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Type: log.MessageTypeRequest, RequestID: "1", Method: "eqLogic::byType",
				Payload: []byte(`{"type": "jMQTT"}`)},
		},
		{
			Timestamp: base.Add(took), ConnectionID: "rpc-0001-aaaa", Direction: log.DirectionIn,
			Channel: log.ChannelJSONRPC, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Type: log.MessageTypeResponse, RequestID: "1", Method: "eqLogic::byType",
				Payload: []byte(`[]`), Duration: &took},
		},
		{
			Timestamp: base.Add(time.Second), ConnectionID: "cap-0002-bbbb", Direction: log.DirectionIn,
			Channel: log.ChannelCapture, Category: log.CategoryMessage, Broker: "host",
			Message: &log.MessageEvent{Type: log.MessageTypePublication, Topic: "jeedom/status",
				Payload: []byte("online"), Retained: true},
		},
		{
			Timestamp: base.Add(2 * time.Second), ConnectionID: "cap-0002-bbbb",
			Channel: log.ChannelCapture, Category: log.CategoryState, Broker: "host",
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityConnection, OldState: "", NewState: "connected"},
		},
		{
			Timestamp: base.Add(3 * time.Second), ConnectionID: "mqtt-0003-cccc", Direction: log.DirectionIn,
			Channel: log.ChannelMQTTAPI, Category: log.CategoryError, Broker: "host",
			Error: &log.ErrorEventData{Message: "no response", Context: "jMQTT::version"},
		},
	}
}

func TestViewFormatsEvents(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	var buf bytes.Buffer
	if err := RunView(path, log.Filter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"2026-03-14T09:30:00.000000Z [conn:rpc-0001] OUT JSONRPC REQUEST",
		"Method: eqLogic::byType  Id: 1",
		`Payload: {"type":"jMQTT"}`,
		"Duration: 42ms",
		"broker=host",
		"Topic: jeedom/status (retained)",
		"CONNECTION: - -> connected",
		"Context: jMQTT::version",
		"Error: no response",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output misses %q:\n%s", want, out)
		}
	}
}

func TestViewFiltersByChannel(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	filter, err := BuildFilter(FilterOptions{Channel: "capture"})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := RunView(path, filter, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if strings.Contains(buf.String(), "JSONRPC") {
		t.Errorf("jsonrpc events not filtered:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "jeedom/status") {
		t.Errorf("capture event missing:\n%s", buf.String())
	}
}

func TestFormatPayloadTruncates(t *testing.T) {
	got := formatPayload([]byte(strings.Repeat("x", maxPayload+10)))
	if !strings.HasSuffix(got, "... (truncated)") {
		t.Errorf("payload not truncated: %q", got[len(got)-20:])
	}
}

func TestBuildFilterRejectsBadFlags(t *testing.T) {
	for _, opts := range []FilterOptions{
		{Channel: "http"},
		{Direction: "sideways"},
		{Category: "control"},
		{TimeStart: "yesterday"},
		{TimeEnd: "2026-13-01"},
	} {
		if _, err := BuildFilter(opts); err == nil {
			t.Errorf("BuildFilter(%+v) accepted invalid input", opts)
		}
	}
}

func TestFilterWritesMatchingEvents(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.mlog")

	n, err := RunFilter(path, FilterOptions{Output: out, Broker: "host", Category: "message"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 1 {
		t.Errorf("kept %d events, want 1", n)
	}
	events, err := log.ReadAll(out, log.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Message.Topic != "jeedom/status" {
		t.Errorf("events = %+v", events)
	}
}

func TestFilterByTimeRange(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.mlog")

	n, err := RunFilter(path, FilterOptions{
		Output:    out,
		TimeStart: base.Add(500 * time.Millisecond).Format(time.RFC3339Nano),
		TimeEnd:   base.Add(2500 * time.Millisecond).Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 2 {
		t.Errorf("kept %d events, want 2", n)
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")
	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("lines = %d, want 5", len(lines))
	}
	var resp jsonEvent
	if err := json.Unmarshal([]byte(lines[1]), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != "RESPONSE" || resp.Method != "eqLogic::byType" || resp.Channel != "JSONRPC" {
		t.Errorf("response = %+v", resp)
	}
	if resp.DurationUS == nil || *resp.DurationUS != 42000 {
		t.Errorf("duration = %v", resp.DurationUS)
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")
	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 6 {
		t.Fatalf("rows = %d, want 6", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[3][8] != "jeedom/status" {
		t.Errorf("rows = %v", rows)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	if err := RunExport(path, "xml", filepath.Join(t.TempDir(), "out")); err == nil {
		t.Error("expected an error for format xml")
	}
}

func TestStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	stats, err := Collect(path)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEvents != 5 || stats.Errors != 1 {
		t.Errorf("total=%d errors=%d", stats.TotalEvents, stats.Errors)
	}
	m := stats.Methods["eqLogic::byType"]
	if m == nil || m.Requests != 1 || m.Responses != 1 || m.Mean() != 42*time.Millisecond {
		t.Errorf("method stats = %+v", m)
	}
	if stats.Topics["jeedom/status"] != 1 {
		t.Errorf("topics = %v", stats.Topics)
	}

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Events:   5", "Errors:   1", "eqLogic::byType", "Duration: 3s", "JSONRPC  2"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("stats output misses %q:\n%s", want, buf.String())
		}
	}
}
