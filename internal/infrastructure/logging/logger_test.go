package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
)

func TestNew_Outputs(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", "discard", ""} {
		logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: output}, "1.0.0")
		if logger == nil {
			t.Fatalf("New(output=%q) returned nil", output)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewWithWriter_DefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "test", &buf)

	logger.With("component", "query").Info("query finished", "records", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if entry["service"] != ServiceName {
		t.Errorf("service = %v, want %s", entry["service"], ServiceName)
	}
	if entry["version"] != "test" {
		t.Errorf("version = %v, want test", entry["version"])
	}
	if entry["component"] != "query" {
		t.Errorf("component = %v, want query", entry["component"])
	}
	if entry["msg"] != "query finished" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "text"}, "test", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn entry missing")
	}
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error("dropped")
	if logger.With("k", "v") == nil {
		t.Fatal("With() returned nil")
	}
}

func TestFlux(t *testing.T) {
	q := "from(bucket: \"telemetry\")\n  |> range(start: -5m)\n\t|> last()"
	attr := Flux(q)
	if attr.Key != "flux" {
		t.Errorf("key = %q, want flux", attr.Key)
	}
	if got, want := attr.Value.String(), `from(bucket: "telemetry") |> range(start: -5m) |> last()`; got != want {
		t.Errorf("Flux() = %q, want %q", got, want)
	}

	long := Flux(strings.Repeat("a", maxFluxLength+50)).Value.String()
	if len(long) != maxFluxLength+3 || !strings.HasSuffix(long, "...") {
		t.Errorf("long query not truncated: len %d", len(long))
	}
}
