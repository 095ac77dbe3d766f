package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"message-feed/backend/internal/autherr"
	"message-feed/backend/internal/identity/domain"
	"message-feed/backend/internal/role"
)

const uniqueViolation = "23505"

const selectIdentity = `SELECT i.id, i.handle, i.email, i.password_hash, i.created_at, i.updated_at,
	COALESCE(string_agg(r.name, ',' ORDER BY r.id), '')
FROM identities i
LEFT JOIN identity_roles ir ON ir.identity_id = i.id
LEFT JOIN roles r ON r.id = ir.role_id`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the identity for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.getOne(ctx, selectIdentity+` WHERE i.id = $1 GROUP BY i.id`, id)
}

// GetByHandle returns the identity for handle (case-insensitive), or nil if not found.
func (r *PostgresRepository) GetByHandle(ctx context.Context, handle string) (*domain.Identity, error) {
	return r.getOne(ctx, selectIdentity+` WHERE i.handle = $1 GROUP BY i.id`, strings.ToLower(strings.TrimSpace(handle)))
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.Identity, error) {
	var (
		i     domain.Identity
		roles string
	)
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&i.ID, &i.Handle, &i.Email, &i.PasswordHash, &i.CreatedAt, &i.UpdatedAt, &roles)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if roles != "" {
		i.Roles = role.ParseAll(strings.Split(roles, ","))
	}
	return &i, nil
}

// Create persists the identity and its role grants in one transaction. The identity must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, handle, email, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		i.ID, i.Handle, i.Email, i.PasswordHash, i.CreatedAt, i.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrHandleTaken
		}
		return err
	}
	for _, name := range i.Roles {
		id := name.ID()
		if id == 0 {
			return role.ErrUnknownRole
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO identity_roles (identity_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, i.ID, id,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdatePasswordHash replaces the password hash for the identity with the given id.
// It returns autherr.ErrUnknownIdentity when no such identity exists.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, passwordHash, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return autherr.ErrUnknownIdentity
	}
	return nil
}
