package utils

import (
	"context"
	"errors"
	"log/slog"
)

// LogFanout is a slog.Handler that duplicates every record to a set of
// handlers, used to keep the tinted console stream and the plain log file
// in sync.
type LogFanout struct {
	handlers []slog.Handler
}

func NewLogFanout(handlers ...slog.Handler) *LogFanout {
	return &LogFanout{handlers: handlers}
}

func (f *LogFanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *LogFanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *LogFanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return NewLogFanout(next...)
}

func (f *LogFanout) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return NewLogFanout(next...)
}
