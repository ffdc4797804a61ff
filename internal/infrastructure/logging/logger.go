package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "fluxquery"

// maxFluxLength bounds the Flux text carried by a log entry.
const maxFluxLength = 200

// Logger wraps slog.Logger with fluxquery defaults.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the output named in cfg.
//
// Supported outputs are "stdout" (default), "stderr" and "discard". The CLI
// uses stderr so query results on stdout stay machine-readable.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	case "discard", "none":
		output = io.Discard
	default:
		output = os.Stdout
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter creates a Logger writing to w, ignoring cfg.Output.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// ParseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger that adds args to every entry, e.g.
// logger.With("component", "relay").
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a logger for use before configuration is loaded.
// It writes JSON to stderr at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}, "dev")
}

// Flux returns an attribute holding a Flux script flattened to one line and
// cut to a bounded length, so multi-line queries stay readable in JSON logs.
func Flux(q string) slog.Attr {
	flat := strings.Join(strings.Fields(q), " ")
	if len(flat) > maxFluxLength {
		flat = flat[:maxFluxLength] + "..."
	}
	return slog.String("flux", flat)
}

// Nop returns a logger that drops everything. Tests and library callers
// without logging use it.
func Nop() *Logger {
	return NewWithWriter(config.LoggingConfig{}, "", io.Discard)
}
