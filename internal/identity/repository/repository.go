package repository

import (
	"context"
	"errors"

	"message-feed/backend/internal/identity/domain"
)

// ErrHandleTaken is returned by Create when the handle is already registered.
var ErrHandleTaken = errors.New("handle already registered")

// Repository defines persistence for identities.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByHandle(ctx context.Context, handle string) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
	UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error
}
