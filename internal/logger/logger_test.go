package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestWriter_NoFile(t *testing.T) {
	if w := DefaultConfig().Writer(); w != nil {
		t.Fatalf("expected nil writer when no file is set")
	}
}

func TestWriter_Defaults(t *testing.T) {
	cfg := Config{File: FileConfig{Path: "x.log"}}
	l, ok := cfg.Writer().(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 || l.Compress {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
}

func TestWriter_Overrides(t *testing.T) {
	cfg := Config{File: FileConfig{Path: "x2.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}
	l := cfg.Writer().(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
}

func TestNewSlogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sharedws.log")
	cfg := DefaultConfig()
	cfg.Slog.Color = true
	cfg.File.Path = path

	log := cfg.NewSlogger()
	log.Info("allocated", "path", "/nfs/ws@2")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(b), "path=/nfs/ws@2") {
		t.Fatalf("unexpected file content: %q", b)
	}
	if strings.Contains(string(b), "\033[") {
		t.Fatalf("file output must not contain color codes: %q", b)
	}
}

func TestNewSloggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: LevelDebug, Format: FormatJSON}}
	cfg.NewSloggerTo(&buf).Debug("probe", "candidates", 3)

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("not JSON: %v (%q)", err, buf.String())
	}
	if m["msg"] != "probe" || m["candidates"] != float64(3) {
		t.Fatalf("unexpected record: %v", m)
	}
	if _, ok := m["time"]; ok {
		t.Fatalf("time should be omitted without TimeStamps: %v", m)
	}
}

func TestNewSloggerTo_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: LevelWarn, Format: FormatText}}
	log := cfg.NewSloggerTo(&buf)
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	slog.New(h).With("node", "agent-1").Error("boom")

	out := buf.String()
	if !strings.Contains(out, "\033[31mERROR\033[0m") {
		t.Fatalf("expected red ERROR prefix: %q", out)
	}
	if !strings.Contains(out, "node=agent-1") {
		t.Fatalf("WithAttrs lost: %q", out)
	}
	if strings.Contains(out, "time=") || strings.Contains(out, "level=") {
		t.Fatalf("time and level should be dropped: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "warning": slog.LevelWarn,
		"error": slog.LevelError, "": slog.LevelInfo, "nope": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
