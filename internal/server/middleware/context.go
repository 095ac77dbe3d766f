package middleware

import (
	"context"

	"message-feed/backend/internal/security"
)

type contextKey struct{ name string }

var claimKey = contextKey{"claim"}

// WithClaim returns a context carrying the validated claim of the caller.
func WithClaim(ctx context.Context, c *security.Claim) context.Context {
	return context.WithValue(ctx, claimKey, c)
}

// ClaimFrom returns the claim set by Authenticate and true, or nil, false.
func ClaimFrom(ctx context.Context) (*security.Claim, bool) {
	c, ok := ctx.Value(claimKey).(*security.Claim)
	return c, ok && c != nil
}
