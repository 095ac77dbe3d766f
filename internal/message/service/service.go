// Package service implements the message feed operations. Every operation is authorized
// through the authz engine before it touches storage.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"message-feed/backend/internal/audit"
	"message-feed/backend/internal/autherr"
	"message-feed/backend/internal/authz"
	"message-feed/backend/internal/message/domain"
	"message-feed/backend/internal/message/repository"
	"message-feed/backend/internal/security"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ErrInvalidCursor is returned by List for a cursor that is not a message ID.
var ErrInvalidCursor = errors.New("invalid cursor")

// Authorizer decides whether a claim may perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, claim *security.Claim, action authz.Action) error
}

// Page is one page of the feed, newest first. NextCursor is empty on the last page.
type Page struct {
	Messages   []*domain.Message
	NextCursor string
}

// Service runs feed operations.
type Service struct {
	repo  repository.Repository
	authz Authorizer
	audit audit.AuditLogger
	now   func() time.Time
}

// NewService returns a message service. auditLogger may be nil.
func NewService(repo repository.Repository, authorizer Authorizer, auditLogger audit.AuditLogger) *Service {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Service{
		repo:  repo,
		authz: authorizer,
		audit: auditLogger,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// List returns up to limit messages older than cursor. limit is clamped to [1, MaxPageSize];
// zero selects DefaultPageSize.
func (s *Service) List(ctx context.Context, claim *security.Claim, cursor string, limit int) (*Page, error) {
	if err := s.authz.Authorize(ctx, claim, authz.Action{Kind: authz.Read}); err != nil {
		return nil, err
	}
	if cursor != "" {
		if _, err := ulid.ParseStrict(cursor); err != nil {
			return nil, ErrInvalidCursor
		}
	}
	switch {
	case limit == 0:
		limit = DefaultPageSize
	case limit < 1:
		limit = 1
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	msgs, err := s.repo.List(ctx, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	page := &Page{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		page.NextCursor = msgs[limit-1].ID
	}
	return page, nil
}

// Create stores a message owned by the claim subject.
func (s *Service) Create(ctx context.Context, claim *security.Claim, body string) (*domain.Message, error) {
	if err := s.authz.Authorize(ctx, claim, authz.Action{Kind: authz.Create}); err != nil {
		return nil, err
	}
	body, err := domain.NormalizeBody(body)
	if err != nil {
		return nil, err
	}
	now := s.now()
	m := &domain.Message{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		OwnerID:   claim.Subject,
		Body:      body,
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	s.audit.LogEvent(ctx, claim.Subject, audit.ActionMessageCreated, audit.ResourceMessage, map[string]string{"message_id": m.ID})
	return m, nil
}

// Delete removes message id if the claim is an admin or the owner.
func (s *Service) Delete(ctx context.Context, claim *security.Claim, id string) error {
	if err := s.authz.Authorize(ctx, claim, authz.Action{Kind: authz.Delete, ResourceID: id}); err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if !deleted {
		// Removed concurrently after the ownership check.
		return autherr.ErrNotFound
	}
	s.audit.LogEvent(ctx, claim.Subject, audit.ActionMessageDeleted, audit.ResourceMessage, map[string]string{"message_id": id})
	return nil
}
