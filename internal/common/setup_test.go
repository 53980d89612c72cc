package common

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitializeLogger_ReplacesGlobals(t *testing.T) {
	previous := zap.L()
	defer zap.ReplaceGlobals(previous)

	logger, cleanup := InitializeLogger()
	defer cleanup()

	if zap.L() != logger {
		t.Fatal("Expected zap.L() to return the initialized logger")
	}
	// the default global logger is a no-op; fatal config errors must reach a real core
	if !zap.L().Core().Enabled(zapcore.InfoLevel) {
		t.Error("Expected the global logger to log at info level")
	}
}
