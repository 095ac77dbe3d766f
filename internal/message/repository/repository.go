package repository

import (
	"context"

	"message-feed/backend/internal/message/domain"
)

// Repository defines persistence for feed messages.
type Repository interface {
	Create(ctx context.Context, m *domain.Message) error
	// OwnerOf returns the owner of id and whether the message exists.
	OwnerOf(ctx context.Context, id string) (ownerID string, found bool, err error)
	// Delete removes id and reports whether a row was deleted.
	Delete(ctx context.Context, id string) (bool, error)
	// List returns up to limit messages with IDs below before (all when before is empty), newest first.
	List(ctx context.Context, before string, limit int) ([]*domain.Message, error)
}
