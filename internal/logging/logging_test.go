package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLevelParsing(t *testing.T) {
	if l := New(Options{Level: "debug"}); l.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("level: %v", l.GetLevel())
	}
	if l := New(Options{Level: "nonsense"}); l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("fallback level: %v", l.GetLevel())
	}
	if l := New(Options{}); l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("default level: %v", l.GetLevel())
	}
}

func TestNewFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mlxd.log")
	l := New(Options{Level: "info", File: path})
	l.Info().Str("k", "v").Msg("hello")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if len(b) == 0 {
		t.Fatalf("log file empty")
	}
}
