package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestReplaceRestores(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	L().Info("room_terminate", zap.String("room_id", "1234567890"))
	restore()
	L().Info("after_restore")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 captured entry, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Message != "room_terminate" || entry.ContextMap()["room_id"] != "1234567890" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestBuildWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "arena.log")
	logger, err := Build(Options{Level: "info", ToFile: true, Format: "json", File: path})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	logger.Info("match_found", zap.String("room_id", "42"))
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"match_found"`) {
		t.Fatalf("log file missing entry: %s", raw)
	}
}
