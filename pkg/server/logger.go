package server

import (
	"context"
	"log/slog"
)

// SessionLogHandler is a slog.Handler that captures a worker's records in the
// session registry so they can be polled over the API.
type SessionLogHandler struct {
	Registry  *Registry
	SessionID string
}

func NewSessionLogHandler(registry *Registry, sessionID string) *SessionLogHandler {
	return &SessionLogHandler{
		Registry:  registry,
		SessionID: sessionID,
	}
}

func (h *SessionLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *SessionLogHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	return h.Registry.AppendLog(h.SessionID, LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  attrs,
	})
}

func (h *SessionLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Attribute chaining is not needed for the worker's flat log calls.
	return h
}

func (h *SessionLogHandler) WithGroup(name string) slog.Handler {
	return h
}
