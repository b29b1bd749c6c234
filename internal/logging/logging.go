// Package logging builds the *slog.Logger shared by every recall component.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	charm "github.com/charmbracelet/log"

	"github.com/lazypower/recall/internal/config"
)

// Option configures a logger created with New.
type Option func(*options)

type options struct {
	level  slog.Level
	format string
	writer io.Writer
}

// WithLevel parses a level name (debug, info, warn, error). Unknown names
// leave the level at info.
func WithLevel(name string) Option {
	return func(o *options) {
		switch strings.ToLower(name) {
		case "debug":
			o.level = slog.LevelDebug
		case "warn", "warning":
			o.level = slog.LevelWarn
		case "error":
			o.level = slog.LevelError
		default:
			o.level = slog.LevelInfo
		}
	}
}

// WithFormat selects text, json or pretty output.
func WithFormat(format string) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithWriter overrides the output writer. Defaults to os.Stderr so hook
// commands keep stdout clean for the host.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// New returns a logger for the given options.
func New(opts ...Option) *slog.Logger {
	o := &options{level: slog.LevelInfo, format: "text", writer: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	var h slog.Handler
	switch o.format {
	case "json":
		h = slog.NewJSONHandler(o.writer, &slog.HandlerOptions{Level: o.level})
	case "pretty":
		h = charm.NewWithOptions(o.writer, charm.Options{
			Level:           charm.Level(o.level),
			ReportTimestamp: true,
			Prefix:          "recall",
		})
	default:
		h = slog.NewTextHandler(o.writer, &slog.HandlerOptions{Level: o.level})
	}
	return slog.New(h)
}

// FromConfig builds a logger from the [log] config section.
func FromConfig(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := []Option{WithLevel(cfg.Level), WithFormat(cfg.Format)}
	if w != nil {
		opts = append(opts, WithWriter(w))
	}
	return New(opts...)
}

// Nop returns a logger that drops everything.
func Nop() *slog.Logger {
	return slog.New(nopHandler{})
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
