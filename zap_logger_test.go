package canarystore

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Debug("listing", "account", "gcs-prod")
	logger.Info("stored", "account", "gcs-prod")
	logger.Warn("retrying", "account", "gcs-prod")
	logger.Error("gave up", "account", "gcs-prod")

	want := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	entries := logs.All()
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, entry := range entries {
		if entry.Level != want[i] {
			t.Errorf("entry %d: level %v, want %v", i, entry.Level, want[i])
		}
		if got := entry.ContextMap()["account"]; got != "gcs-prod" {
			t.Errorf("entry %d: account = %v", i, got)
		}
	}
}

func TestZapLoggerNamedAndWith(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewZapLogger(zap.New(core)).Named("repair").With("account", "mem")

	logger.Debug("filtered out")
	logger.Info("rebuild finished", "indexed", 3)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].LoggerName != "repair" {
		t.Errorf("LoggerName = %q, want repair", entries[0].LoggerName)
	}
	fields := entries[0].ContextMap()
	if fields["account"] != "mem" || fields["indexed"] != int64(3) {
		t.Errorf("fields = %v", fields)
	}
}

func TestNewZapLoggerAtLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		for _, dev := range []bool{false, true} {
			logger, err := NewZapLoggerAtLevel(level, dev)
			if err != nil {
				t.Fatalf("NewZapLoggerAtLevel(%q, %v): %v", level, dev, err)
			}
			logger.Info("started")
		}
	}

	if _, err := NewZapLoggerAtLevel("verbose", false); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown level error = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewDevelopmentZapLogger(); err != nil {
		t.Errorf("NewDevelopmentZapLogger: %v", err)
	}
}

func TestLoggerImplementations(t *testing.T) {
	var _ Logger = &NoOpLogger{}
	var _ Logger = &SlogLogger{}
	var _ Logger = &ZapLogger{}
}
