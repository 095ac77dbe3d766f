// Package handler serves the dev-only code lookup endpoint.
package handler

import (
	"net/http"

	"message-feed/backend/internal/devotp"
	"message-feed/backend/internal/platform/httpx"
)

const devOTPNote = "DEV MODE ONLY"

// Response is the body of GET /dev/otp.
type Response struct {
	Code string `json:"code"`
	Note string `json:"note"`
}

// Handler reads codes from a devotp.Store. Only mounted when dev OTP is enabled outside production.
type Handler struct {
	store devotp.Store
}

// NewHandler returns a Handler that reads from store.
func NewHandler(store devotp.Store) *Handler {
	return &Handler{store: store}
}

// GetOTP returns the plain code for ?correlation_id=. 400 if the parameter is missing, 404 if unknown or expired.
func (h *Handler) GetOTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("correlation_id")
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_argument", "correlation_id is required")
		return
	}
	code, ok := h.store.Get(r.Context(), id)
	if !ok {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "code not found or expired")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, Response{Code: code, Note: devOTPNote})
}
