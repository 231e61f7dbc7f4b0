package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects level, format ("json" or "text") and destination
// ("stdout", "stderr", "discard" or a file path).
type Config struct {
	Level     string
	Format    string
	Output    string
	Component string
}

// Logger wraps slog.Logger and remembers the writer it owns.
type Logger struct {
	*slog.Logger
	output io.Writer
}

func New(cfg Config) *Logger {
	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "discard":
		output = io.Discard
	default:
		if file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			output = file
		} else {
			output = os.Stderr
		}
	}
	return newWithWriter(cfg, output)
}

func newWithWriter(cfg Config, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	l := slog.New(handler)
	if cfg.Component != "" {
		l = l.With("component", cfg.Component)
	}
	return &Logger{Logger: l, output: output}
}

// Nop returns a logger that drops everything. Handy in tests.
func Nop() *Logger {
	return newWithWriter(Config{}, io.Discard)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithComponent creates a logger tagged with the component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component), output: l.output}
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if c, ok := l.output.(io.Closer); ok && l.output != os.Stdout && l.output != os.Stderr {
		return c.Close()
	}
	return nil
}
