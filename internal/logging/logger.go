package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global zerolog.Logger instance.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Setup replaces the global logger according to level and format ("json" or "console").
func Setup(level, format string) error {
	return SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("unknown log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch strings.ToLower(format) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	case "json":
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	Logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return nil
}

// Debug starts a new log event with debug level and the fields defined in the context.
func Debug(ctx context.Context) *zerolog.Event {
	return appendContextFields(ctx, Logger.Debug())
}

// Info starts a new log event with info level and the fields defined in the context.
func Info(ctx context.Context) *zerolog.Event {
	return appendContextFields(ctx, Logger.Info())
}

// Warn starts a new log event with warn level and the fields defined in the context.
func Warn(ctx context.Context) *zerolog.Event {
	return appendContextFields(ctx, Logger.Warn())
}

// Error starts a new log event with error level and the fields defined in the context.
func Error(ctx context.Context) *zerolog.Event {
	return appendContextFields(ctx, Logger.Error())
}
