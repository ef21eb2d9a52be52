package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ippclub/better-ept/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.Log{Level: "warn"}, zapcore.AddSync(&buf))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	log.Info("hidden")
	log.Warn("package skipped", zap.String("file", "readme.txt"))
	log.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(out, `"msg":"package skipped"`) || !strings.Contains(out, `"file":"readme.txt"`) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ept.log")
	log, err := New(config.Log{Level: "debug", Filename: path, MaxSize: 1}, zapcore.AddSync(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	log.Debug("indexed", zap.Int("count", 3))
	log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"count":3`) {
		t.Errorf("unexpected log file content %q", data)
	}
}

func TestGetLogLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"":      zapcore.InfoLevel,
		"loud":  zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := getLogLevel(in); got != want {
			t.Errorf("getLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
