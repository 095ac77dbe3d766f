// Package rbac guards HTTP routes with an authorization decision made before the handler runs.
package rbac

import (
	"context"
	"net/http"

	"message-feed/backend/internal/authz"
	"message-feed/backend/internal/platform/httpx"
	"message-feed/backend/internal/security"
	"message-feed/backend/internal/server/middleware"
)

// Authorizer is satisfied by *authz.Engine.
type Authorizer interface {
	Authorize(ctx context.Context, claim *security.Claim, action authz.Action) error
}

// Require returns middleware that lets a request through only if the caller's claim is
// authorized for kind. It must sit behind middleware.Authenticate.
func Require(a Authorizer, kind authz.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claim, ok := middleware.ClaimFrom(r.Context())
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "missing_token", "missing or invalid authorization")
				return
			}
			if err := a.Authorize(r.Context(), claim, authz.Action{Kind: kind}); err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
