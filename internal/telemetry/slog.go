package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOutput selects where log records are written.
//
// Path "" or "stdout" writes to standard output, "stderr" to standard error.
// Any other value is treated as a file path that is rotated by size with
// lumberjack using the remaining fields.
type LogOutput struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetupLogger configures the global slog default logger based on the supplied format and level
// strings read from application configuration.
//
// format: "json"  → JSONHandler (machine readable; recommended for production)
//
//	anything else → TextHandler (human readable; suitable for local development)
//
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
//
// Plaintext API keys must never be passed as attributes; log key ids or display prefixes instead.
func SetupLogger(format, level string, out LogOutput) {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug, // include file:line only when debugging
	}

	w := newLogWriter(out)

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String(), "output", describeOutput(out))
}

func parseLevel(level string) slog.Level {
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

func newLogWriter(out LogOutput) io.Writer {
	switch strings.ToLower(out.Path) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   out.Path,
		MaxSize:    out.MaxSizeMB,
		MaxBackups: out.MaxBackups,
		MaxAge:     out.MaxAgeDays,
		Compress:   true,
	}
}

func describeOutput(out LogOutput) string {
	if out.Path == "" {
		return "stdout"
	}
	return out.Path
}
