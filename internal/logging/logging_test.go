package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedRoot() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return zap.New(core), logs
}

func TestInitRejectsBadLevel(t *testing.T) {
	if err := Init("chatty", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestGetReturnsNamedChild(t *testing.T) {
	defer SetRoot(zap.NewNop())

	core, observed := newObservedRoot()
	SetRoot(core)

	Get("loop").Info("hello")
	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].LoggerName != "loop" {
		t.Errorf("logger name = %q, want %q", entries[0].LoggerName, "loop")
	}
}
