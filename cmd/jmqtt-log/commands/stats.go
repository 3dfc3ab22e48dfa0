package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/domotruc/jmqtt-test/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByChannel   map[log.Channel]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Methods           map[string]*MethodStats
	Topics            map[string]int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// MethodStats counts the requests of one API method and their latency.
type MethodStats struct {
	Requests  int
	Responses int
	Total     time.Duration
	Max       time.Duration
}

// Mean is the mean round-trip time of the answered requests.
func (m *MethodStats) Mean() time.Duration {
	if m.Responses == 0 {
		return 0
	}
	return m.Total / time.Duration(m.Responses)
}

// Collect reads every event of path.
func Collect(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByChannel:   make(map[log.Channel]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Methods:           make(map[string]*MethodStats),
		Topics:            make(map[string]int),
	}
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByChannel[event.Channel]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++
	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}
	if event.Error != nil {
		s.Errors++
	}

	m := event.Message
	if m == nil {
		return
	}
	if m.Type == log.MessageTypePublication {
		s.Topics[m.Topic]++
		return
	}
	if m.Method == "" {
		return
	}
	ms, ok := s.Methods[m.Method]
	if !ok {
		ms = &MethodStats{}
		s.Methods[m.Method] = ms
	}
	switch m.Type {
	case log.MessageTypeRequest:
		ms.Requests++
	case log.MessageTypeResponse:
		ms.Responses++
		if m.Duration != nil {
			ms.Total += *m.Duration
			ms.Max = max(ms.Max, *m.Duration)
		}
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Events:   %d\n", stats.TotalEvents)
	fmt.Fprintf(w, "Errors:   %d\n", stats.Errors)
	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Start:    %s\n", stats.TimeRange.Start.UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "Duration: %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
	}

	fmt.Fprintln(w, "\nBy channel:")
	for _, c := range []log.Channel{log.ChannelJSONRPC, log.ChannelMQTTAPI, log.ChannelCapture, log.ChannelUI} {
		if n := stats.EventsByChannel[c]; n > 0 {
			fmt.Fprintf(w, "  %-8s %d\n", c, n)
		}
	}
	fmt.Fprintf(w, "\nDirection: in=%d out=%d\n",
		stats.EventsByDirection[log.DirectionIn], stats.EventsByDirection[log.DirectionOut])

	if len(stats.Methods) > 0 {
		fmt.Fprintln(w, "\nMethods:")
		names := make([]string, 0, len(stats.Methods))
		for name := range stats.Methods {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			m := stats.Methods[name]
			fmt.Fprintf(w, "  %-24s req=%d resp=%d mean=%s max=%s\n",
				name, m.Requests, m.Responses, formatDuration(m.Mean()), formatDuration(m.Max))
		}
	}

	if len(stats.Topics) > 0 {
		fmt.Fprintln(w, "\nTopics:")
		topics := make([]string, 0, len(stats.Topics))
		for t := range stats.Topics {
			topics = append(topics, t)
		}
		sort.Slice(topics, func(i, j int) bool {
			if stats.Topics[topics[i]] != stats.Topics[topics[j]] {
				return stats.Topics[topics[i]] > stats.Topics[topics[j]]
			}
			return topics[i] < topics[j]
		})
		for _, t := range topics {
			fmt.Fprintf(w, "  %-40s %d\n", t, stats.Topics[t])
		}
	}
	return nil
}
