// Package handler exposes registration, login and recovery over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"message-feed/backend/internal/autherr"
	identitydomain "message-feed/backend/internal/identity/domain"
	"message-feed/backend/internal/identity/service"
	"message-feed/backend/internal/platform/httpx"
	"message-feed/backend/internal/role"
	"message-feed/backend/internal/security"
	"message-feed/backend/internal/server/middleware"
)

// Auth is the subset of service.AuthService used by the handler.
type Auth interface {
	Register(ctx context.Context, handle, email, password string) (*identitydomain.Identity, error)
	Login(ctx context.Context, handle, password string) (*service.AuthResult, error)
	RequestRecovery(ctx context.Context, handle string) (string, error)
	ResetPassword(ctx context.Context, correlationID, code, newPassword string) error
	RecoverSession(ctx context.Context, correlationID, code string) (*service.AuthResult, error)
	ChangePassword(ctx context.Context, claim *security.Claim, currentPassword, newPassword string) error
	Me(ctx context.Context, claim *security.Claim) (*identitydomain.Identity, error)
}

type RegisterRequest struct {
	Handle   string `json:"handle"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	IdentityID  string    `json:"identity_id"`
}

type IdentityResponse struct {
	ID     string   `json:"id"`
	Handle string   `json:"handle"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles"`
}

type RecoveryRequest struct {
	Handle string `json:"handle"`
}

type RecoveryResponse struct {
	CorrelationID string `json:"correlation_id"`
}

type ResetRequest struct {
	CorrelationID string `json:"correlation_id"`
	Code          string `json:"code"`
	NewPassword   string `json:"new_password"`
}

type RecoverSessionRequest struct {
	CorrelationID string `json:"correlation_id"`
	Code          string `json:"code"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password,omitempty"`
	NewPassword     string `json:"new_password"`
}

// Handler serves /v1/auth and /v1/recovery.
type Handler struct {
	auth Auth
}

// NewHandler returns an auth handler.
func NewHandler(auth Auth) *Handler {
	return &Handler{auth: auth}
}

// Register handles POST /v1/auth/register. Responds 201.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	ident, err := h.auth.Register(r.Context(), req.Handle, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toIdentity(ident))
}

// Login handles POST /v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.auth.Login(r.Context(), req.Handle, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toToken(res))
}

// Me handles GET /v1/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claim, _ := middleware.ClaimFrom(r.Context())
	ident, err := h.auth.Me(r.Context(), claim)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toIdentity(ident))
}

// ChangePassword handles POST /v1/auth/password. Responds 204.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claim, _ := middleware.ClaimFrom(r.Context())
	var req ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.auth.ChangePassword(r.Context(), claim, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestRecovery handles POST /v1/recovery. It always answers 202 with a correlation ID,
// whether or not the handle exists.
func (h *Handler) RequestRecovery(w http.ResponseWriter, r *http.Request) {
	var req RecoveryRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Handle == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_argument", "handle is required")
		return
	}
	id, err := h.auth.RequestRecovery(r.Context(), req.Handle)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, RecoveryResponse{CorrelationID: id})
}

// ResetPassword handles POST /v1/recovery/reset. Responds 204.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CorrelationID == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_argument", "correlation_id and code are required")
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.CorrelationID, req.Code, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecoverSession handles POST /v1/recovery/session and returns a recovery token.
func (h *Handler) RecoverSession(w http.ResponseWriter, r *http.Request) {
	var req RecoverSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CorrelationID == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_argument", "correlation_id and code are required")
		return
	}
	res, err := h.auth.RecoverSession(r.Context(), req.CorrelationID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toToken(res))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httpx.DecodeJSON(r, v); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, service.ErrHandleTaken):
		httpx.WriteError(w, http.StatusConflict, "handle_taken", "handle already registered")
	case errors.Is(err, autherr.ErrCodeMismatch), errors.Is(err, autherr.ErrAlreadyConsumed),
		errors.Is(err, autherr.ErrExpired), errors.Is(err, autherr.ErrNotFound):
		httpx.WriteCodeError(w, err)
	default:
		httpx.WriteDomainError(w, err)
	}
}

func toToken(res *service.AuthResult) TokenResponse {
	return TokenResponse{
		AccessToken: res.Token,
		TokenType:   "Bearer",
		ExpiresAt:   res.ExpiresAt,
		IdentityID:  res.IdentityID,
	}
}

func toIdentity(i *identitydomain.Identity) IdentityResponse {
	return IdentityResponse{ID: i.ID, Handle: i.Handle, Email: i.Email, Roles: role.Strings(i.Roles)}
}
