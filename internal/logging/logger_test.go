package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "explicit buffer", config: &Config{Level: LevelInfo, Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithTileAndBank(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	tileLogger := logger.WithTile(1, 2)
	tileLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "tile=(1,2)") {
		t.Errorf("expected tile=(1,2) in output, got: %s", output)
	}

	buf.Reset()
	bankLogger := tileLogger.WithBank(3)
	bankLogger.Info("bank message")

	output = buf.String()
	if !strings.Contains(output, "tile=(1,2)") || !strings.Contains(output, "bank=3") {
		t.Errorf("expected chained tile+bank context, got: %s", output)
	}
}

func TestLoggerWithCycle(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	cycleLogger := logger.WithCycle(42)
	cycleLogger.Debug("processing request", "op", "LOAD_W")

	output := buf.String()
	if !strings.Contains(output, "cycle=42") {
		t.Errorf("expected cycle=42 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=LOAD_W") {
		t.Errorf("expected op=LOAD_W in output, got: %s", output)
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got: %s", buf.String())
	}

	logger.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected warn message to appear, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") || !strings.Contains(output, "key=value") {
		t.Errorf("expected debug message, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
