package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditLogout           AuditEvent = "logout"
	AuditBackendLogin     AuditEvent = "backend_login"
	AuditUserCreated      AuditEvent = "user_created"
	AuditRecordCreated    AuditEvent = "record_created"
	AuditRecordUpdated    AuditEvent = "record_updated"
	AuditRecordDeleted    AuditEvent = "record_deleted"
	AuditRecordsSeeded    AuditEvent = "records_seeded"
)

// auditLogger wraps slog.Logger for structured audit logging and counts
// events when a registry is configured.
type auditLogger struct {
	logger *slog.Logger
	events *prometheus.CounterVec
	now    func() time.Time
}

func newAuditLogger(logger *slog.Logger, reg prometheus.Registerer, now func() time.Time) *auditLogger {
	al := &auditLogger{
		logger: logger.With("component", "audit"),
		now:    now,
	}
	if reg != nil {
		al.events = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicdesk_audit_events_total",
			Help: "Audit events by type.",
		}, []string{"event"})
		reg.MustRegister(al.events)
	}
	return al
}

// log writes a structured audit entry for a call from windowID.
func (al *auditLogger) log(ctx context.Context, event AuditEvent, windowID int, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.Int("window_id", windowID),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
	base = append(base, attrs...)
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", base...)
	if al.events != nil {
		al.events.WithLabelValues(string(event)).Inc()
	}
}

// logRecord is a convenience for record mutations.
func (al *auditLogger) logRecord(ctx context.Context, event AuditEvent, windowID int, userID, kind, id string) {
	al.log(ctx, event, windowID,
		slog.String("user_id", userID),
		slog.String("kind", kind),
		slog.String("record_id", id),
	)
}

// logFailure logs a failed authentication attempt.
func (al *auditLogger) logFailure(ctx context.Context, event AuditEvent, windowID int, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{slog.String("reason", reason)}
	attrs = append(attrs, extra...)
	al.log(ctx, event, windowID, attrs...)
}
