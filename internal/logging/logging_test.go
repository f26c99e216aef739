package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitWithHandler_CapturesOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(slog.NewJSONHandler(&buf, nil))

	Logger.Info("writer opened", "path", "journal/events.log")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["msg"] != "writer opened" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["path"] != "journal/events.log" {
		t.Errorf("path = %v", entry["path"])
	}
}

func TestComponent_AddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(slog.NewJSONHandler(&buf, nil))

	Component("retention").Warn("tier over size limit", "tier", "warm")

	line := buf.String()
	if !strings.Contains(line, `"component":"retention"`) {
		t.Errorf("component attribute missing: %s", line)
	}
}

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	Logger.Info("suppressed")
	Logger.Warn("emitted")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Errorf("info line leaked through warn level: %s", out)
	}
	if !strings.Contains(out, "emitted") {
		t.Errorf("warn line missing: %s", out)
	}
}
