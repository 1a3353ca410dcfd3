package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewJSONWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(Config{Level: "info", Format: "json"}, &buf)
	defer l.Close() //nolint:errcheck

	l.Info("webhook delivered", "webhook_id", "wh1", "attempt", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "webhook delivered" || rec["webhook_id"] != "wh1" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(Config{Level: "info"}, &buf)
	if l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be disabled at info")
	}
	l.SetLevel("debug")
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be enabled after SetLevel")
	}
	l.SetLevel("error")
	if l.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("warn should be disabled at error")
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	var buf bytes.Buffer
	l := newWithWriter(Config{Level: "info", Format: "text", FilePath: path}, &buf)
	l.Info("hello file")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file") || !strings.Contains(buf.String(), "hello file") {
		t.Fatalf("expected record in both outputs; file=%q stdout=%q", data, buf.String())
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if ParseLevel("nonsense") != slog.LevelInfo {
		t.Fatal("unknown levels should map to info")
	}
}
