package log

import (
	"context"
	"log/slog"
)

// MaxPayloadAttr bounds the payload text attached to console records.
const MaxPayloadAttr = 256

// SlogAdapter writes protocol events to an slog.Logger at debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("channel", event.Channel.String()),
		slog.String("category", event.Category.String()),
	}
	if event.Broker != "" {
		attrs = append(attrs, slog.String("broker", event.Broker))
	}

	switch {
	case event.Message != nil:
		m := event.Message
		attrs = append(attrs, slog.String("msg_type", m.Type.String()))
		if m.RequestID != "" {
			attrs = append(attrs, slog.String("req_id", m.RequestID))
		}
		if m.Method != "" {
			attrs = append(attrs, slog.String("method", m.Method))
		}
		if m.Topic != "" {
			attrs = append(attrs, slog.String("topic", m.Topic))
		}
		if m.Retained {
			attrs = append(attrs, slog.Bool("retained", true))
		}
		attrs = append(attrs, slog.String("payload", truncate(m.Payload)))
		if m.Duration != nil {
			attrs = append(attrs, slog.Duration("took", *m.Duration))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

func truncate(b []byte) string {
	if len(b) <= MaxPayloadAttr {
		return string(b)
	}
	return string(b[:MaxPayloadAttr]) + "..."
}

var _ Logger = (*SlogAdapter)(nil)
