package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"message-feed/backend/internal/autherr"
	"message-feed/backend/internal/platform/httpx"
	"message-feed/backend/internal/security"
)

const bearerPrefix = "bearer "

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string, now time.Time) (*security.Claim, error)
}

// TokenMetrics counts rejected tokens. A nil value is allowed.
type TokenMetrics interface {
	TokenRejected(reason string)
}

// Authenticate returns middleware that requires a valid Bearer token whose purpose is one of
// purposes (access only when none are given) and stores its claim in the request context.
func Authenticate(tokens TokenValidator, now func() time.Time, metrics TokenMetrics, purposes ...security.Purpose) func(http.Handler) http.Handler {
	if len(purposes) == 0 {
		purposes = []security.Purpose{security.PurposeAccess}
	}
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				reject(metrics, "missing")
				w.Header().Set("WWW-Authenticate", `Bearer`)
				httpx.WriteError(w, http.StatusUnauthorized, "missing_token", "missing or invalid authorization")
				return
			}
			claim, err := tokens.Validate(token, now())
			if err != nil {
				reject(metrics, reason(err))
				httpx.WriteTokenError(w, err)
				return
			}
			if !slices.Contains(purposes, claim.Purpose) {
				reject(metrics, "wrong_purpose")
				httpx.WriteError(w, http.StatusForbidden, "wrong_token_purpose", "token not valid for this operation")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaim(r.Context(), claim)))
		})
	}
}

func reject(metrics TokenMetrics, reason string) {
	if metrics != nil {
		metrics.TokenRejected(reason)
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, autherr.ErrExpired):
		return "expired"
	case errors.Is(err, autherr.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, autherr.ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}

// extractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
