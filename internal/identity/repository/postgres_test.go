package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"message-feed/backend/internal/autherr"
	"message-feed/backend/internal/identity/domain"
	"message-feed/backend/internal/role"
)

var created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

var identityCols = []string{"id", "handle", "email", "password_hash", "created_at", "updated_at", "roles"}

func TestPostgresRepository_GetByHandle(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE i.handle = $1`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(identityCols).
			AddRow("u1", "alice", "alice@example.com", "hash", created, created, "user,admin"))

	i, err := r.GetByHandle(context.Background(), "  Alice ")
	if err != nil {
		t.Fatalf("GetByHandle: %v", err)
	}
	if i.ID != "u1" || i.Email != "alice@example.com" {
		t.Errorf("unexpected identity %v", i)
	}
	if !i.HasRole(role.User) || !i.HasRole(role.Admin) {
		t.Errorf("Roles = %v, want user and admin", i.Roles)
	}
}

func TestPostgresRepository_GetByIDNotFound(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE i.id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(identityCols))

	i, err := r.GetByID(context.Background(), "missing")
	if err != nil || i != nil {
		t.Errorf("GetByID missing: want nil, nil; got %v, %v", i, err)
	}
}

func TestPostgresRepository_GetByIDNoRoles(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE i.id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(identityCols).AddRow("u1", "bob", "bob@example.com", "hash", created, created, ""))

	i, err := r.GetByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(i.Roles) != 0 {
		t.Errorf("Roles = %v, want none", i.Roles)
	}
}

func TestPostgresRepository_Create(t *testing.T) {
	r, mock := newMockRepo(t)
	i := &domain.Identity{
		ID: "u1", Handle: "alice", Email: "alice@example.com", PasswordHash: "hash",
		Roles: []role.Name{role.User}, CreatedAt: created, UpdatedAt: created,
	}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO identities`)).
		WithArgs("u1", "alice", "alice@example.com", "hash", created, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO identity_roles`)).
		WithArgs("u1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := r.Create(context.Background(), i); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresRepository_CreateDuplicateHandle(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO identities`)).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := r.Create(context.Background(), &domain.Identity{ID: "u2", Handle: "alice"})
	if !errors.Is(err, ErrHandleTaken) {
		t.Errorf("Create duplicate: want ErrHandleTaken, got %v", err)
	}
}

func TestPostgresRepository_UpdatePasswordHash(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE identities SET password_hash = $2`)).
		WithArgs("u1", "new-hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := r.UpdatePasswordHash(context.Background(), "u1", "new-hash"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE identities SET password_hash = $2`)).
		WithArgs("gone", "new-hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := r.UpdatePasswordHash(context.Background(), "gone", "new-hash"); !errors.Is(err, autherr.ErrUnknownIdentity) {
		t.Errorf("UpdatePasswordHash on missing identity: err = %v, want ErrUnknownIdentity", err)
	}
}
