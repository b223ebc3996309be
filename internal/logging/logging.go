// Package logging builds the launcher's slog logger: a tint console handler
// plus a size-rotated debug log file.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// MaxFileSizeMB is the size at which the debug log rotates
	MaxFileSizeMB = 5
	// MaxBackups is the number of rotated files kept
	MaxBackups = 3
)

// Options configure Setup
type Options struct {
	// Verbose raises the console level to debug when > 0
	Verbose int
	// Debug forces debug level on the console (dev mode)
	Debug bool
	// FilePath is the debug log location; empty disables the file
	FilePath string
	// Console defaults to os.Stderr
	Console io.Writer
}

// Logger is the configured logger and the file it owns
type Logger struct {
	*slog.Logger
	file *lumberjack.Logger
}

// Setup builds the logger. The file handler always records debug level.
func Setup(opts Options) *Logger {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	level := slog.LevelInfo
	if opts.Verbose > 0 || opts.Debug {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		tint.NewHandler(console, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
			NoColor:    !isTerminal(console),
		}),
	}

	l := &Logger{}
	if opts.FilePath != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    MaxFileSizeMB,
			MaxBackups: MaxBackups,
		}
		handlers = append(handlers, slog.NewTextHandler(l.file, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	l.Logger = slog.New(Fanout(handlers...))
	return l
}

// Close flushes and closes the log file
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// WithLaunchID tags every record with a fresh launch id
func WithLaunchID(logger *slog.Logger) (*slog.Logger, string) {
	id := uuid.NewString()
	return logger.With("launch_id", id), id
}

// isTerminal reports whether w is a terminal. Colour is only used for TTYs.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// IsTerminal reports whether stderr is attached to a terminal
func IsTerminal() bool {
	return isTerminal(os.Stderr)
}

type fanout []slog.Handler

// Fanout sends each record to every handler that accepts its level
func Fanout(handlers ...slog.Handler) slog.Handler {
	return fanout(handlers)
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
