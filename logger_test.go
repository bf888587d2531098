package canarystore

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNoOpLogger(t *testing.T) {
	logger := &NoOpLogger{}

	logger.Debug("test message", "key", "value")
	logger.Info("test message", "key", "value")
	logger.Warn("test message", "key", "value")
	logger.Error("test message", "key", "value")
}

func newBufferedSlog(level slog.Level) (*SlogLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	return NewSlogLogger(slog.New(handler)), &buf
}

func TestSlogLoggerFields(t *testing.T) {
	logger, buf := newBufferedSlog(slog.LevelDebug)

	logger.With("storage").Info("stored object", "account", "fs", "attempts", 2)

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if record["msg"] != "stored object" || record["level"] != "INFO" {
		t.Errorf("unexpected record: %v", record)
	}
	if record["component"] != "storage" || record["account"] != "fs" || record["attempts"] != float64(2) {
		t.Errorf("fields not carried: %v", record)
	}
}

func TestSlogLoggerLevels(t *testing.T) {
	logger, buf := newBufferedSlog(slog.LevelWarn)

	testCases := []struct {
		name   string
		log    func(string, ...interface{})
		logged bool
	}{
		{"debug", logger.Debug, false},
		{"info", logger.Info, false},
		{"warn", logger.Warn, true},
		{"error", logger.Error, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			tc.log("message", "key", "value")
			if got := buf.Len() > 0; got != tc.logged {
				t.Errorf("logged = %v, want %v", got, tc.logged)
			}
		})
	}
}

func TestSlogLoggerOddFields(t *testing.T) {
	logger, buf := newBufferedSlog(slog.LevelInfo)
	logger.Info("message", "k1", "v1", "k2")
	if !strings.Contains(buf.String(), "k2") {
		t.Errorf("dangling key dropped: %s", buf.String())
	}
}

func TestNewSlogLoggerDefault(t *testing.T) {
	if NewSlogLogger(nil).logger == nil {
		t.Error("expected slog.Default() fallback")
	}
}
