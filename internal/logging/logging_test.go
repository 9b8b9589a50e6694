package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warning", want: slog.LevelWarn},
		{input: " error ", want: slog.LevelError},
		{input: "", want: slog.LevelInfo},
		{input: "verbose", want: slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew_JSONWithStacktraceOnError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Error("boom", "filename", "cat.png")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one record, got %d: %q", len(lines), buf.String())
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if record["msg"] != "boom" {
		t.Errorf("msg = %v, want boom", record["msg"])
	}
	if record["filename"] != "cat.png" {
		t.Errorf("filename = %v, want cat.png", record["filename"])
	}
	if _, ok := record["stacktrace"]; !ok {
		t.Error("expected stacktrace attribute on error record")
	}
}

func TestNew_TextKeepsAttrsThroughWith(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "text").With("component", "storage")

	logger.Info("saved")

	out := buf.String()
	if !strings.Contains(out, "component=storage") {
		t.Errorf("expected attribute in output, got %q", out)
	}
	if strings.Contains(out, "stacktrace") {
		t.Errorf("info record must not carry a stacktrace: %q", out)
	}
}
