// Package httpx holds the JSON request/response helpers shared by HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"message-feed/backend/internal/autherr"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes an ErrorBody.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{Code: code, Message: message})
}

// DecodeJSON decodes the request body into v, rejecting unknown fields and trailing data.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

// Status maps an error from the auth taxonomy to an HTTP status and machine-readable code.
// Errors outside the taxonomy map to 500.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, autherr.ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid_credential"
	case errors.Is(err, autherr.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, autherr.ErrMalformed):
		return http.StatusUnauthorized, "malformed_token"
	case errors.Is(err, autherr.ErrUnknownIdentity):
		return http.StatusUnauthorized, "unknown_identity"
	case errors.Is(err, autherr.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, autherr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, autherr.ErrCodeMismatch):
		return http.StatusBadRequest, "code_mismatch"
	case errors.Is(err, autherr.ErrAlreadyConsumed):
		return http.StatusBadRequest, "code_already_used"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// WriteTokenError writes a 401 for token failures (expired tokens included). Failures that
// need fresh credentials carry a Bearer challenge.
func WriteTokenError(w http.ResponseWriter, err error) {
	if autherr.IsReauthenticate(err) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	if errors.Is(err, autherr.ErrExpired) {
		WriteError(w, http.StatusUnauthorized, "token_expired", "token expired")
		return
	}
	status, code := Status(err)
	if status == http.StatusInternalServerError {
		WriteError(w, status, code, "internal error")
		return
	}
	WriteError(w, status, code, http.StatusText(status))
}

// WriteCodeError writes the response for a failed one-time code redemption.
// An expired code is a client error (400), not an authentication failure.
func WriteCodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, autherr.ErrExpired) {
		WriteError(w, http.StatusBadRequest, "code_expired", "code expired")
		return
	}
	if errors.Is(err, autherr.ErrNotFound) {
		// Unknown correlation IDs look the same as wrong codes.
		WriteError(w, http.StatusBadRequest, "code_mismatch", "invalid code")
		return
	}
	status, code := Status(err)
	if status == http.StatusInternalServerError {
		WriteError(w, status, code, "internal error")
		return
	}
	WriteError(w, status, code, http.StatusText(status))
}

// WriteDomainError writes the response for a service error outside token/code handling.
func WriteDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, autherr.ErrExpired) {
		WriteTokenError(w, err)
		return
	}
	status, code := Status(err)
	msg := http.StatusText(status)
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	WriteError(w, status, code, msg)
}
