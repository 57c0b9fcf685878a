package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "json", &buf)
	log.Info("hidden")
	log.Warn("shown", "host", "web1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "shown" || rec["host"] != "web1" {
		t.Errorf("record = %v", rec)
	}
}

func TestNew_TextDefault(t *testing.T) {
	var buf bytes.Buffer
	New("bogus", "", &buf).Debug("no")
	New("bogus", "", &buf).Info("yes")
	if got := buf.String(); strings.Contains(got, "msg=no") || !strings.Contains(got, "msg=yes") {
		t.Errorf("output = %q", got)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger")
	}
	l := New("info", "text", &bytes.Buffer{})
	if FromContext(WithLogger(context.Background(), l)) != l {
		t.Error("expected logger from context")
	}
}
