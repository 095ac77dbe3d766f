package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"message-feed/backend/internal/otp/domain"
)

// PostgresStore keeps OTP records in the otp_records table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns an OTP store that uses the given db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Replace takes a transaction-scoped advisory lock on the identity, supersedes its
// unconsumed records and inserts rec.
func (s *PostgresStore) Replace(ctx context.Context, rec *domain.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.IdentityID); err != nil {
		return fmt.Errorf("lock identity: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE otp_records SET superseded = true WHERE identity_id = $1 AND consumed = false AND superseded = false`,
		rec.IdentityID,
	); err != nil {
		return fmt.Errorf("supersede: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO otp_records (id, identity_id, code_hash, created_at, expires_at, consumed, superseded)
		 VALUES ($1, $2, $3, $4, $5, false, false)`,
		rec.ID, rec.IdentityID, rec.CodeHash, rec.CreatedAt, rec.ExpiresAt,
	); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return tx.Commit()
}

// Get returns the record for id, or nil if not found.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	var (
		r          domain.Record
		consumedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, identity_id, code_hash, created_at, expires_at, consumed, consumed_at, superseded, failed_attempts
		 FROM otp_records WHERE id = $1`, id,
	).Scan(&r.ID, &r.IdentityID, &r.CodeHash, &r.CreatedAt, &r.ExpiresAt, &r.Consumed, &consumedAt, &r.Superseded, &r.FailedAttempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if consumedAt.Valid {
		t := consumedAt.Time
		r.ConsumedAt = &t
	}
	return &r, nil
}

// Consume is a conditional update; only one concurrent caller observes a row change.
func (s *PostgresStore) Consume(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE otp_records SET consumed = true, consumed_at = $2
		 WHERE id = $1 AND consumed = false AND superseded = false`, id, at,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordFailure increments failed_attempts on a redeemable record and supersedes it at limit.
func (s *PostgresStore) RecordFailure(ctx context.Context, id string, limit int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`UPDATE otp_records SET failed_attempts = failed_attempts + 1, superseded = (failed_attempts + 1 >= $2)
		 WHERE id = $1 AND consumed = false AND superseded = false
		 RETURNING failed_attempts`, id, limit,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// PurgeExpired deletes records that expired before the given time.
func (s *PostgresStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM otp_records WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
