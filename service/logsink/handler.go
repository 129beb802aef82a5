package logsink

import (
	"context"
	"log/slog"
)

// Handler returns a slog.Handler that appends records to the sink, so
// components that only know *slog.Logger can write into it. Records still go
// to the mirror logger.
func (s *Sink) Handler() slog.Handler {
	return &sinkHandler{sink: s}
}

type sinkHandler struct {
	sink   *Sink
	attrs  []slog.Attr
	prefix string
}

func (h *sinkHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *sinkHandler) Handle(_ context.Context, r slog.Record) error {
	args := make([]any, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		args = append(args, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		a.Key = h.prefix + a.Key
		args = append(args, a)
		return true
	})
	h.sink.Append(levelFromSlog(r.Level), r.Message, args...)
	return nil
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &sinkHandler{sink: h.sink, prefix: h.prefix}
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return next
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &sinkHandler{sink: h.sink, attrs: h.attrs, prefix: h.prefix + name + "."}
}

func levelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l == SlogLevelSuccess:
		return LevelSuccess
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}
