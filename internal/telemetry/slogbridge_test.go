package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSinkHandlerRendersThroughConsoleWriter(t *testing.T) {
	var lines []string
	h := NewSinkHandler(func(s string) { lines = append(lines, s) }, false, slog.LevelInfo)
	logger := slog.New(h)
	logger.Info("gateway attempt", "provider", "anthropic")

	if len(lines) != 1 {
		t.Fatalf("expected 1 rendered line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "gateway attempt") {
		t.Fatalf("expected message in rendered line, got %q", lines[0])
	}
}

func TestSinkHandlerRespectsLevel(t *testing.T) {
	var lines []string
	h := NewSinkHandler(func(s string) { lines = append(lines, s) }, false, slog.LevelWarn)
	logger := slog.New(h)
	logger.Info("should be suppressed")
	logger.Warn("should appear")

	if len(lines) != 1 {
		t.Fatalf("expected exactly 1 line past the warn threshold, got %d", len(lines))
	}
}

func TestSinkHandlerWithAttrsCarriesIntoExtra(t *testing.T) {
	h := NewSinkHandler(func(string) {}, false, slog.LevelInfo)
	withAttrs := h.WithAttrs([]slog.Attr{slog.String("component", "etl")})
	if err := withAttrs.Handle(context.Background(), slog.Record{Message: "tick"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
