package cakemail

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSimpleLoggerFormatsKeyValues(t *testing.T) {
	var buf strings.Builder
	logger := NewSimpleLogger()
	logger.l.SetOutput(&buf)
	logger.l.SetFlags(0)

	logger.Info("request done", "status", 200, "endpoint", "/lists")

	line := buf.String()
	for _, want := range []string{"INFO", "request done", "status=200", "endpoint=/lists"} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected %q in log line %q", want, line)
		}
	}
}

func TestSimpleLoggerOddKeyValues(t *testing.T) {
	var buf strings.Builder
	logger := NewSimpleLogger()
	logger.l.SetOutput(&buf)
	logger.l.SetFlags(0)

	logger.Warn("odd", "dangling")
	if !strings.Contains(buf.String(), "dangling") {
		t.Errorf("Expected dangling value preserved, got %q", buf.String())
	}
}

func TestZapLoggerAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Debug("debug msg", "k", "v")
	logger.Info("info msg", "attempt", 2)
	logger.Warn("warn msg")
	logger.Error("error msg", "type", ErrorTypeServer)

	if logs.Len() != 4 {
		t.Fatalf("Expected 4 log entries, got %d", logs.Len())
	}
	entry := logs.All()[1]
	if entry.Message != "info msg" {
		t.Errorf("Expected message preserved, got %q", entry.Message)
	}
	fields := entry.ContextMap()
	if fields["attempt"] != int64(2) {
		t.Errorf("Expected attempt field, got %v", fields)
	}
}
