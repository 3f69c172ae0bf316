// Package logging builds the structured logger shared by frontdesk
// components, optionally teeing into a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Level      string // debug, info, warn, error
	Format     string // text, json, or auto (text on a terminal, json otherwise)
	File       string // empty disables file output
	MaxSizeMB  int
	MaxBackups int
}

// New returns a logger writing to w and, when opts.File is set, to a
// rotating file. The returned closer releases the file and is never nil.
func New(opts Options, w io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	var closer io.Closer = nopCloser{}
	out := w
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		closer = rotator
		out = io.MultiWriter(w, rotator)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	format := strings.ToLower(opts.Format)
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "text"
		}
	}
	switch format {
	case "", "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q (want text, json or auto)", opts.Format)
	}

	return slog.New(handler), closer, nil
}

// Component returns logger tagged with the component name, falling back to
// slog.Default() when logger is nil.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
