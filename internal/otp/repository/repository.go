package repository

import (
	"context"
	"time"

	"message-feed/backend/internal/otp/domain"
)

// Store persists OTP records. Implementations must make Replace and Consume
// atomic per identity so that at most one record per identity is active.
type Store interface {
	// Replace marks every unconsumed record of rec.IdentityID as superseded and inserts rec, atomically.
	Replace(ctx context.Context, rec *domain.Record) error
	// Get returns the record for id, or nil if not found.
	Get(ctx context.Context, id string) (*domain.Record, error)
	// Consume marks id consumed at the given time iff it is neither consumed nor superseded.
	// It reports whether this call performed the transition.
	Consume(ctx context.Context, id string, at time.Time) (bool, error)
	// RecordFailure counts a wrong code against id if it is still redeemable and returns
	// the new count, or 0 when nothing changed. Reaching limit supersedes the record.
	RecordFailure(ctx context.Context, id string, limit int) (int, error)
	// PurgeExpired deletes records that expired before the given time and returns how many were removed.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

const (
	// DefaultWindow is the default OTP validity window.
	DefaultWindow = 10 * time.Minute
	// DefaultMaxAttempts is how many wrong codes a record tolerates.
	DefaultMaxAttempts = 5
)
