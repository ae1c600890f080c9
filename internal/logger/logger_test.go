package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	log := Init("test-service", "info")
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
	if !log.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info level enabled")
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level disabled at info")
	}
}

func TestInit_DebugLevel(t *testing.T) {
	log := Init("test-service", "debug")
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level enabled")
	}
}

func TestInit_BadLevelDefaultsToInfo(t *testing.T) {
	log := Init("test-service", "loud")
	if !log.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected fallback to info level")
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug disabled on fallback")
	}
}
