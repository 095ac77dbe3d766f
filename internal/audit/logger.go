// Package audit records security events (logins, registrations, recovery, deletions) best-effort.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"message-feed/backend/internal/audit/domain"
	auditrepo "message-feed/backend/internal/audit/repository"
)

// Actions recorded by the services.
const (
	ActionRegister          = "register"
	ActionLoginSuccess      = "login_success"
	ActionLoginFailure      = "login_failure"
	ActionRecoveryRequested = "recovery_requested"
	ActionRecoveryCompleted = "recovery_completed"
	ActionPasswordReset     = "password_reset"
	ActionPasswordChanged   = "password_changed"
	ActionMessageCreated    = "message_created"
	ActionMessageDeleted    = "message_deleted"
)

// Resources named in audit entries.
const (
	ResourceIdentity = "identity"
	ResourceMessage  = "message"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event. LogEvent is best-effort: failures are
// logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, identityID, action, resource string, metadata map[string]string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         logrus.FieldLogger
	now         func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown". log receives persistence failures.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{
		repo:        repo,
		ipExtractor: ipExtractor,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// LogEvent writes one audit log entry. metadata is stored as a JSON object; it must not carry secrets.
func (l *Logger) LogEvent(ctx context.Context, identityID, action, resource string, metadata map[string]string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	var meta string
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err == nil {
			meta = string(b)
		}
	}
	entry := &domain.AuditLog{
		ID:         uuid.New().String(),
		IdentityID: identityID,
		Action:     action,
		Resource:   resource,
		IP:         ip,
		Metadata:   meta,
		CreatedAt:  l.now(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.WithFields(logrus.Fields{
			"action":   action,
			"resource": resource,
			"error":    err.Error(),
		}).Error("audit: failed to log event")
	}
}

// Nop is an AuditLogger that drops every event.
type Nop struct{}

// LogEvent implements AuditLogger.
func (Nop) LogEvent(context.Context, string, string, string, map[string]string) {}
