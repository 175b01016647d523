package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
}

// BlockEvent describes a block placed on a client address
type BlockEvent struct {
	IPAddress       string
	Reason          string
	BlockedUntil    time.Time
	FailedAttempts  int
	UserAgent       string
	AttemptedEmails []string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

func (al *AuditLogger) base(auditType, eventType string) []slog.Attr {
	return []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", eventType),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
}

// LogAuthAttempt logs authentication attempts. Emails are masked.
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	attrs := append(al.base("auth", event.EventType), slog.Bool("success", event.Success))

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogBlock logs a new block on an address
func (al *AuditLogger) LogBlock(event BlockEvent) {
	attrs := append(al.base("ipguard", "ip_blocked"),
		slog.String("ip_address", event.IPAddress),
		slog.String("reason", event.Reason),
		slog.Time("blocked_until", event.BlockedUntil.UTC()),
		slog.Int("failed_attempts", event.FailedAttempts),
	)
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if len(event.AttemptedEmails) > 0 {
		attrs = append(attrs, slog.Any("attempted_emails", SanitizedEmails(event.AttemptedEmails)))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}

// LogUnblock logs a manual unblock by an administrator
func (al *AuditLogger) LogUnblock(ipAddress, adminID string, existed bool) {
	attrs := append(al.base("ipguard", "ip_unblocked"),
		slog.String("ip_address", ipAddress),
		slog.String("admin_id", adminID),
		slog.Bool("existed", existed),
	)
	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}

// LogHoneypot logs a decoy endpoint hit
func (al *AuditLogger) LogHoneypot(ipAddress, path, userAgent string) {
	attrs := append(al.base("ipguard", "honeypot_hit"),
		slog.String("ip_address", ipAddress),
		slog.String("path", path),
	)
	if userAgent != "" {
		attrs = append(attrs, slog.String("user_agent", userAgent))
	}
	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}

// LogRegistrationDenied logs a registration refused by the per-address cap
func (al *AuditLogger) LogRegistrationDenied(ipAddress string, count int) {
	attrs := append(al.base("registration", "registration_denied"),
		slog.String("ip_address", ipAddress),
		slog.Int("registrations", count),
	)
	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}
