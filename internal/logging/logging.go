// Package logging builds the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options selects format, level and an optional rotating file.
type Options struct {
	Level      string
	Format     string // "text" or "json"
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// Logger wraps a slog.Logger whose level can be changed at runtime.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	file  *lumberjack.Logger
}

// ParseLevel accepts debug, info, warn/warning and error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q", s)
}

// New builds a logger writing to stdout and, when opts.File is set, to a
// size-rotated file as well.
func New(opts Options) (*Logger, error) {
	return newWithWriter(os.Stdout, opts)
}

func newWithWriter(stdout io.Writer, opts Options) (*Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(lvl)

	out := stdout
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    defaultInt(opts.MaxSizeMB, 100),
			MaxAge:     opts.MaxAgeDays,
			MaxBackups: opts.MaxBackups,
			Compress:   opts.Compress,
		}
		out = io.MultiWriter(stdout, l.file)
	}

	ho := &slog.HandlerOptions{Level: l.level}
	switch strings.ToLower(opts.Format) {
	case "", "text":
		l.Logger = slog.New(slog.NewTextHandler(out, ho))
	case "json":
		l.Logger = slog.New(slog.NewJSONHandler(out, ho))
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}
	return l, nil
}

// SetLevel changes the level of every logger derived from l.
func (l *Logger) SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	l.level.Set(lvl)
	return nil
}

func (l *Logger) Level() slog.Level { return l.level.Level() }

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
