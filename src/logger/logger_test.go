package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"INFO":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("%q: got %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "synth.log")
	if err := Init(Config{Level: "debug", File: path}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	L.Debugw("voice dropped", "freq", 440.0)
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "voice dropped") {
		t.Errorf("log file does not contain message: %s", data)
	}
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	if err := Init(Config{Level: "loud"}); err == nil {
		t.Error("expected error")
	}
}
