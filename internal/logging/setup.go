// Package logging configures structured logging for the console using log/slog.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Level is shared by every handler built here so the level can change at runtime.
var Level slog.LevelVar

// Options selects how log records are rendered.
type Options struct {
	Level     string // debug, info, warn, error
	Format    string // json or text
	AddSource bool
	Output    io.Writer
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_SOURCE.
func OptionsFromEnv() Options {
	return Options{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		AddSource: strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_SOURCE")), "true"),
		Output:    os.Stderr,
	}
}

// Setup installs the default logger from environment variables.
func Setup() *slog.Logger {
	return Install(OptionsFromEnv())
}

// Install builds a logger from opts, makes it the slog default and routes
// the stdlib log package through it.
func Install(opts Options) *slog.Logger {
	logger := New(opts)
	slog.SetDefault(logger)

	log.SetOutput(stdlibBridge{logger: logger})
	log.SetFlags(0)
	return logger
}

// New builds a logger without touching global state.
func New(opts Options) *slog.Logger {
	Level.Set(ParseLevel(opts.Level))

	w := opts.Output
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: &Level, AddSource: opts.AddSource}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "text") {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// ParseLevel converts a string to slog.Level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
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

// stdlibBridge forwards log.Printf output from third-party code.
type stdlibBridge struct {
	logger *slog.Logger
}

func (b stdlibBridge) Write(p []byte) (int, error) {
	b.logger.Info(strings.TrimRight(string(p), "\n"), "source", "stdlib")
	return len(p), nil
}
