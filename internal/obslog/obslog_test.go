package obslog

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInitWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cw.log")
	t.Cleanup(func() { Set(nil) })

	if err := Init(Options{Level: "debug", Format: "json", ToFile: true, File: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	L().Info("session_create")
	Sync()

	raw, err := os.ReadFile(path)
	if err != nil { t.Fatalf("read log: %v", err) }
	if len(raw) == 0 { t.Fatalf("expected log output in %s", path) }
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel, "WARN": zapcore.WarnLevel, "error": zapcore.ErrorLevel, "": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
