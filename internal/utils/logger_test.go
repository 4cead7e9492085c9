package utils

import (
	"testing"

	"go.uber.org/zap"
)

func resetGlobalLogger(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		loggerMu.Lock()
		globalLogger = nil
		loggerMu.Unlock()
		zap.ReplaceGlobals(zap.NewNop())
	})
}

func TestOrNopWithoutInstalledLogger(t *testing.T) {
	resetGlobalLogger(t)

	if Logger() == nil {
		t.Fatalf("expected a no-op logger before NewLogger")
	}
	if OrNop(nil) == nil {
		t.Fatalf("expected OrNop to never return nil")
	}

	explicit := zap.NewNop()
	if OrNop(explicit) != explicit {
		t.Fatalf("expected explicit logger to be returned unchanged")
	}
}

func TestOrNopFallsBackToInstalledLogger(t *testing.T) {
	resetGlobalLogger(t)

	installed := MustNewLogger(LoggingConfig{Level: "warn", Encoding: "json"})
	if Logger() != installed {
		t.Fatalf("expected Logger to return the installed logger")
	}
	if OrNop(nil) != installed {
		t.Fatalf("expected nil logger to fall back to the installed one")
	}
	if installed.Core().Enabled(zap.InfoLevel) {
		t.Fatalf("expected info to be disabled at warn level")
	}
}
