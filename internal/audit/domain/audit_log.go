package domain

import "time"

// AuditLog represents a security-relevant event. IdentityID is empty for events
// with no resolved identity (e.g. a failed login for an unknown handle).
type AuditLog struct {
	ID         string
	IdentityID string
	Action     string
	Resource   string
	IP         string
	Metadata   string
	CreatedAt  time.Time
}
