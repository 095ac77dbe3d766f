package repository

import (
	"context"
	"database/sql"
	"errors"

	"message-feed/backend/internal/message/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a message repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the message. The message must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, owner_id, body, created_at) VALUES ($1, $2, $3, $4)`,
		m.ID, m.OwnerID, m.Body, m.CreatedAt)
	return err
}

// OwnerOf returns the owner of the message. found is false for missing rows; err is set
// only for database failures.
func (r *PostgresRepository) OwnerOf(ctx context.Context, id string) (string, bool, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, `SELECT owner_id FROM messages WHERE id = $1`, id).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return owner, true, nil
}

// Delete removes the message and reports whether it existed.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List pages through messages by descending ID (keyset pagination).
func (r *PostgresRepository) List(ctx context.Context, before string, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.id, m.owner_id, i.handle, m.body, m.created_at
		FROM messages m
		JOIN identities i ON i.id = m.owner_id
		WHERE ($1 = '' OR m.id < $1)
		ORDER BY m.id DESC
		LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*domain.Message, 0, limit)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.OwnerHandle, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
