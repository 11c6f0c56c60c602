package perfmon

import (
	"testing"
	"time"
)

func TestStartStopAccumulatesTimerStats(t *testing.T) {
	m := New()
	m.Start("fetch")
	time.Sleep(2 * time.Millisecond)
	m.Stop("fetch")
	m.Start("fetch")
	time.Sleep(2 * time.Millisecond)
	m.Stop("fetch")

	stats := m.Snapshot()
	ts, ok := stats.Timers["fetch"]
	if !ok {
		t.Fatalf("expected fetch timer to be present")
	}
	if ts.Count != 2 {
		t.Fatalf("expected count 2, got %d", ts.Count)
	}
	if ts.Total <= 0 || ts.Average <= 0 {
		t.Fatalf("expected positive total/average, got %+v", ts)
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	m := New()
	m.Stop("never-started")
	if _, ok := m.Snapshot().Timers["never-started"]; ok {
		t.Fatalf("expected no timer entry for a name that was never started")
	}
}

func TestIncrementAndCacheHitRate(t *testing.T) {
	m := New()
	m.Increment("cache_hits", 3)
	m.Increment("cache_misses", 1)
	m.Increment("requests", 1)

	stats := m.Snapshot()
	if stats.Counters["cache_hits"] != 3 || stats.Counters["requests"] != 1 {
		t.Fatalf("unexpected counters: %+v", stats.Counters)
	}
	if stats.CacheHitRate != 0.75 {
		t.Fatalf("expected cache hit rate 0.75, got %v", stats.CacheHitRate)
	}
}

func TestCacheHitRateZeroWhenNoLookups(t *testing.T) {
	m := New()
	if rate := m.Snapshot().CacheHitRate; rate != 0 {
		t.Fatalf("expected 0 cache hit rate with no lookups, got %v", rate)
	}
}

func TestResetClearsTimersAndCounters(t *testing.T) {
	m := New()
	m.Start("x")
	m.Stop("x")
	m.Increment("y", 5)

	m.Reset()

	stats := m.Snapshot()
	if len(stats.Timers) != 0 || len(stats.Counters) != 0 {
		t.Fatalf("expected reset to clear all state, got %+v", stats)
	}
}
