package domain

import "time"

// Record is a one-time passcode issued to an identity (stored in otp_records).
// The clear code is never stored; CodeHash is the SHA-256 hex digest.
// Superseded is set when a newer code is requested or when FailedAttempts
// reaches the store's limit; either way the record can no longer be redeemed.
type Record struct {
	ID             string
	IdentityID     string
	CodeHash       string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Consumed       bool
	ConsumedAt     *time.Time
	Superseded     bool
	FailedAttempts int
}

// Expired reports whether the record's validity window has closed at now.
// A record is still valid at exactly ExpiresAt.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Active reports whether the record can still be redeemed at now.
func (r *Record) Active(now time.Time) bool {
	return !r.Consumed && !r.Superseded && !r.Expired(now)
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.ConsumedAt != nil {
		t := *r.ConsumedAt
		c.ConsumedAt = &t
	}
	return &c
}
