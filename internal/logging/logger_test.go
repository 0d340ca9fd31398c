// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true, "debug")
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug to be enabled")
	}
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false, "warn")
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info to be filtered at warn level")
	}
	logger.Warn("production logger ready")
}

// TestParseLevel covers defaults and rejects unknown names.
func TestParseLevel(t *testing.T) {
	t.Parallel()

	lvl, err := ParseLevel("")
	if err != nil || lvl != zapcore.InfoLevel {
		t.Fatalf("expected info default, got %v %v", lvl, err)
	}
	lvl, err = ParseLevel(" ERROR ")
	if err != nil || lvl != zapcore.ErrorLevel {
		t.Fatalf("expected error level, got %v %v", lvl, err)
	}
	if _, err := New(true, "loud"); err == nil {
		t.Fatal("expected unknown level to fail")
	}
}
