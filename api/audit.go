package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditBindIssued         AuditEvent = "bind_issued"
	AuditVerifySuccess      AuditEvent = "verify_success"
	AuditVerifyFailure      AuditEvent = "verify_failure"
	AuditVerifyRateLimited  AuditEvent = "verify_rate_limited"
	AuditAccountCreated     AuditEvent = "account_created"
	AuditLogout             AuditEvent = "logout"
	AuditPanelKeyBound      AuditEvent = "panel_key_bound"
	AuditPanelConfigDeleted AuditEvent = "panel_config_deleted"
	AuditPanelHealthChecked AuditEvent = "panel_health_checked"
	AuditVerifyFailureSpike AuditEvent = "verify_failure_spike"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *authMetrics
	webhook *auditWebhook
	now     func() time.Time
}

func newAuditLogger(logger *slog.Logger, metrics *authMetrics, webhook *auditWebhook, now func() time.Time) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		metrics: metrics,
		webhook: webhook,
		now:     now,
	}
}

// log writes a structured audit log entry. Panel keys and TOTP secrets
// must never be passed as attributes.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	now := al.now()
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.webhook != nil {
		al.webhook.enqueue(eventFromAttrs(event, r.RemoteAddr, now, attrs))
	}

	if spike, count := al.metrics.recordEvent(event, now); spike {
		al.logger.LogAttrs(r.Context(), slog.LevelWarn, "audit",
			slog.String("event", string(AuditVerifyFailureSpike)),
			slog.Int("count", count),
			slog.String("message", "verify failure rate exceeds threshold"),
		)
	}
}

// logEvent is a convenience for events with an account ID.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, accountID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("account_id", accountID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed or throttled authentication attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
