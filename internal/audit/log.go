// Package audit writes structured audit events to the service log. The
// database audit trail for permission changes is kept by the auth store;
// these lines mirror it for log pipelines.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and principal context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		attrs = append(attrs,
			slog.String("user_id", p.UserID()),
			slog.String("scheme", string(p.Scheme())),
		)
	}
	group := make([]any, 0, len(fields))
	for k, v := range fields {
		group = append(group, slog.Any(k, v))
	}
	attrs = append(attrs, slog.Group("fields", group...))

	obs.Logger().LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}

// PermissionChange adapts LogEvent to the auth service's audit hook.
func PermissionChange(ctx context.Context, entry auth.AuditEntry) {
	_ = LogEvent(ctx, "permissions."+string(entry.Action), map[string]any{
		"assigner_type": string(entry.Assigner.Type),
		"assigner_id":   entry.Assigner.ID,
		"assignee_type": string(entry.Assignee.Type),
		"assignee_id":   entry.Assignee.ID,
		"permission_id": entry.PermissionID,
	})
}
