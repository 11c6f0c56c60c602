package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type collectingReporter struct {
	errs []string
}

func (c *collectingReporter) ReportError(source string, err error, fields map[string]any) {
	c.errs = append(c.errs, err.Error())
}

func newTestSink(t *testing.T) (*Sink, *collectingReporter) {
	t.Helper()
	resetForTest()
	dir := t.TempDir()
	rep := &collectingReporter{}
	s := Init(Config{
		BasePath:      dir,
		BatchSize:     4,
		FlushInterval: 20 * time.Millisecond,
	}, rep)
	t.Cleanup(func() {
		s.Stop()
		resetForTest()
	})
	return s, rep
}

func TestBucketPathGroupsByServerDayLevel(t *testing.T) {
	s, _ := newTestSink(t)
	ts := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	r := Record{Timestamp: ts, Level: LevelError, ServerID: "guild1", Message: "boom"}
	got := s.bucketPath(r)
	want := filepath.Join(s.cfg.BasePath, "guild1", "20260731", "bot_log_ERROR.jsonl")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestEmitWritesNDJSONAndPreservesOrderWithinBucket(t *testing.T) {
	s, _ := newTestSink(t)
	for i := 0; i < 3; i++ {
		s.Emit(Record{Level: LevelInfo, ServerID: "g1", Message: "msg" + string(rune('a'+i))})
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	path := s.bucketPath(Record{Timestamp: time.Now(), Level: LevelInfo, ServerID: "g1"})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read bucket file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), data)
	}
	if !strings.Contains(lines[0], "msga") || !strings.Contains(lines[1], "msgb") || !strings.Contains(lines[2], "msgc") {
		t.Fatalf("records out of order: %v", lines)
	}
}

func TestEmitDropsOnFullQueueAndCountsDrops(t *testing.T) {
	resetForTest()
	dir := t.TempDir()
	rep := &collectingReporter{}
	// batch size 1 -> queue size clamps to min 8; the writer flushes each
	// record it takes as its own file append, so 50 back-to-back emits
	// outpace it and fill the queue.
	s := Init(Config{BasePath: dir, BatchSize: 1, FlushInterval: time.Hour}, rep)
	defer func() { s.Stop(); resetForTest() }()

	for i := 0; i < 50; i++ {
		s.Emit(Record{Level: LevelDebug, ServerID: "g1", Message: "x"})
	}
	if s.DroppedCount() == 0 {
		t.Fatal("expected some records to be dropped once the queue filled")
	}
}

func TestRenderConsoleWithoutColor(t *testing.T) {
	r := Record{Timestamp: time.Now(), Level: LevelWarning, Source: SourceSystem, Message: "careful"}
	line := RenderConsole(r, false)
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("expected no ANSI codes, got %q", line)
	}
	if !strings.Contains(line, "careful") {
		t.Fatalf("expected message in output, got %q", line)
	}
}
