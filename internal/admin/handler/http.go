// Package handler serves the administrative views. Every route must sit behind
// rbac.Require with an admin-only action.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"message-feed/backend/internal/audit/domain"
	"message-feed/backend/internal/platform/httpx"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditReader is satisfied by the audit repository.
type AuditReader interface {
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.AuditLog, error)
}

// AuditEntry is the JSON form of one audit event.
type AuditEntry struct {
	ID         string          `json:"id"`
	IdentityID string          `json:"identity_id,omitempty"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	IP         string          `json:"ip,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditResponse is the body of GET /v1/admin/audit.
type AuditResponse struct {
	Events []AuditEntry `json:"events"`
}

type Handler struct {
	audit AuditReader
}

func NewHandler(audit AuditReader) *Handler {
	return &Handler{audit: audit}
}

// ListAudit handles GET /v1/admin/audit?identity_id=&limit=. Newest events first.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	identityID := r.URL.Query().Get("identity_id")
	if identityID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_argument", "identity_id is required")
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_argument", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	logs, err := h.audit.ListByIdentity(r.Context(), identityID, limit)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	out := AuditResponse{Events: make([]AuditEntry, 0, len(logs))}
	for _, l := range logs {
		e := AuditEntry{
			ID:         l.ID,
			IdentityID: l.IdentityID,
			Action:     l.Action,
			Resource:   l.Resource,
			IP:         l.IP,
			CreatedAt:  l.CreatedAt,
		}
		if l.Metadata != "" && json.Valid([]byte(l.Metadata)) {
			e.Metadata = json.RawMessage(l.Metadata)
		}
		out.Events = append(out.Events, e)
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}
