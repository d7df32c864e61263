package logging

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFieldsOmitZeroValues(t *testing.T) {
	fields := Fields{OrderID: "ORD-1", DurationMS: 42}.zap()
	if len(fields) != 2 {
		t.Fatalf("expected only the set fields, got %v", fields)
	}
}

func TestDurationReachesLogLine(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{zl: zap.New(core)}

	start := time.Now().Add(-25 * time.Millisecond)
	l.Debug("event handled", Fields{EventID: "evt_1", DurationMS: Since(start)})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	got, ok := entries[0].ContextMap()["duration_ms"].(int64)
	if !ok || got < 25 {
		t.Fatalf("duration_ms must carry elapsed milliseconds, got %v", entries[0].ContextMap())
	}
}
