// Package logging is the platform's structured-logging layer: a small
// slog-backed Logger used by every component, with optional file output
// rotated through lumberjack.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging surface components depend on. Attrs follow the
// message so call sites stay close to plain slog usage.
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)
}

// Options configures a Logger.
type Options struct {
	// Level names the minimum level: debug, info, warning, error,
	// critical (case-insensitive). Empty means info.
	Level string

	// FilePath, when non-empty, sends output to a rotated file instead
	// of stderr.
	FilePath string

	// MaxSizeMB / MaxBackups / MaxAgeDays bound the rotated file set.
	// Zero values fall back to 100 MB, 5 backups, 30 days.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// JSON selects the JSON handler; default is logfmt-style text.
	JSON bool
}

type slogLogger struct {
	l *slog.Logger
}

// New builds a Logger from opts.
func New(opts Options) Logger {
	var w io.Writer = os.Stderr
	if opts.FilePath != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 5
		}
		maxAge := opts.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 30
		}
		w = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   true,
		}
	}

	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return &slogLogger{l: slog.New(h)}
}

// Default returns a text Logger to stderr at info level.
func Default() Logger {
	return New(Options{})
}

// ParseLevel maps a level name to its slog.Level; unknown names map to
// info. "critical" maps to error since slog has no higher tier.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.l.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

func (s *slogLogger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.l.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.l.LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
}

func (s *slogLogger) Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.l.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}
