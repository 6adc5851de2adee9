package log

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ErlanBelekov/prospect-portal/internal/reqctx"
)

const redacted = "[redacted]"

// Top-level attribute keys whose values are replaced before output.
var sensitiveKeys = map[string]bool{
	"token":         true,
	"password":      true,
	"authorization": true,
	"cookie":        true,
	"code":          true,
}

// ContextHandler wraps an slog.Handler. It copies request_id and user_id
// from the record's context and redacts credentials passed as attributes.
type ContextHandler struct {
	inner slog.Handler
}

func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redact(a))
		return true
	})
	if id := reqctx.RequestID(ctx); id != "" {
		out.AddAttrs(slog.String("request_id", id))
	}
	if id := reqctx.UserID(ctx); id != "" {
		out.AddAttrs(slog.String("user_id", id))
	}
	return h.inner.Handle(ctx, out)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redact(a)
	}
	return &ContextHandler{inner: h.inner.WithAttrs(clean)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}

func redact(a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}
