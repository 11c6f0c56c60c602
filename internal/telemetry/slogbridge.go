package telemetry

import (
	"context"
	"log/slog"

	"github.com/starpig1129/pigpig-core/internal/logging"
)

// SinkHandler is an slog.Handler that renders every record through
// logging.RenderConsole and writes the result via a logging.ConsoleWriter,
// so operator-facing console output shares the Structured Logging Sink's
// level/source color map instead of slog's own text formatting.
type SinkHandler struct {
	console logging.ConsoleWriter
	attrs   []slog.Attr
	level   slog.Leveler
}

// NewSinkHandler builds a SinkHandler that writes colorized lines to write.
func NewSinkHandler(write func(string), color bool, level slog.Leveler) *SinkHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &SinkHandler{
		console: logging.ConsoleWriter{Color: color, Write: write},
		level:   level,
	}
}

func (h *SinkHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *SinkHandler) Handle(_ context.Context, r slog.Record) error {
	extra := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		extra[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		extra[a.Key] = a.Value.Any()
		return true
	})

	rec := logging.Record{
		Timestamp: r.Time,
		Level:     slogLevelToRecordLevel(r.Level),
		Source:    logging.SourceSystem,
		Message:   r.Message,
		Extra:     extra,
	}
	h.console.Handle(rec)
	return nil
}

func (h *SinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *SinkHandler) WithGroup(_ string) slog.Handler {
	// Grouping collapses into the flat extra map; the sink's record shape
	// has no nested-group concept.
	return h
}

func slogLevelToRecordLevel(l slog.Level) logging.Level {
	switch {
	case l >= slog.LevelError:
		return logging.LevelError
	case l >= slog.LevelWarn:
		return logging.LevelWarning
	case l >= slog.LevelInfo:
		return logging.LevelInfo
	default:
		return logging.LevelDebug
	}
}
