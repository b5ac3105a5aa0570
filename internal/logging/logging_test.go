package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewAcceptsKnownLevelsAndFormats(t *testing.T) {
	for _, format := range []string{"", "console", "json", "JSON"} {
		logger, err := New("debug", format)
		if err != nil {
			t.Fatalf("format %q: %v", format, err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Fatalf("format %q: expected debug level to be enabled", format)
		}
	}
}

func TestNewRejectsUnknownLevelAndFormat(t *testing.T) {
	if _, err := New("chatty", "console"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
