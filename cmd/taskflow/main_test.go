package main

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"taskflow/internal/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "debug", Development: true})
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug level enabled")
	}

	logger, err = newLogger(config.LogConfig{Level: "warn"})
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("Expected info level disabled")
	}

	if _, err := newLogger(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("Expected error for unknown level")
	}
}
