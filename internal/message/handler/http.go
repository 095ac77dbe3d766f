// Package handler exposes the message feed over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"message-feed/backend/internal/message/domain"
	"message-feed/backend/internal/message/service"
	"message-feed/backend/internal/platform/httpx"
	"message-feed/backend/internal/security"
	"message-feed/backend/internal/server/middleware"
)

// Feed is the subset of service.Service used by the handler.
type Feed interface {
	List(ctx context.Context, claim *security.Claim, cursor string, limit int) (*service.Page, error)
	Create(ctx context.Context, claim *security.Claim, body string) (*domain.Message, error)
	Delete(ctx context.Context, claim *security.Claim, id string) error
}

// MessageResponse is the JSON form of a message.
type MessageResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	OwnerHandle string    `json:"owner_handle,omitempty"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListResponse is the body of GET /v1/messages.
type ListResponse struct {
	Messages   []MessageResponse `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// CreateRequest is the body of POST /v1/messages. OwnerID is accepted and ignored:
// the owner is always the authenticated caller.
type CreateRequest struct {
	Body    string `json:"body"`
	OwnerID string `json:"owner_id,omitempty"`
}

// Handler serves /v1/messages. Routes must sit behind middleware.Authenticate.
type Handler struct {
	feed Feed
}

// NewHandler returns a message handler.
func NewHandler(feed Feed) *Handler {
	return &Handler{feed: feed}
}

// Routes mounts the handlers on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Delete("/{id}", h.Delete)
}

// List handles GET ?cursor=&limit= (limit 1-100, default 20).
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claim, ok := middleware.ClaimFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "missing_token", "missing or invalid authorization")
		return
	}
	limit := service.DefaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > service.MaxPageSize {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_argument", "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	page, err := h.feed.List(r.Context(), claim, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ListResponse{Messages: make([]MessageResponse, 0, len(page.Messages)), NextCursor: page.NextCursor}
	for _, m := range page.Messages {
		resp.Messages = append(resp.Messages, toResponse(m))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Create handles POST. Responds 201 with the stored message.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claim, ok := middleware.ClaimFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "missing_token", "missing or invalid authorization")
		return
	}
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	m, err := h.feed.Create(r.Context(), claim, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(m))
}

// Delete handles DELETE /{id}. Responds 204.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	claim, ok := middleware.ClaimFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "missing_token", "missing or invalid authorization")
		return
	}
	if err := h.feed.Delete(r.Context(), claim, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyBody), errors.Is(err, domain.ErrBodyTooLong), errors.Is(err, service.ErrInvalidCursor):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	default:
		httpx.WriteDomainError(w, err)
	}
}

func toResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		OwnerHandle: m.OwnerHandle,
		Body:        m.Body,
		CreatedAt:   m.CreatedAt,
	}
}
