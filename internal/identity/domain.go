// Package identity resolves the authenticated caller from the external identity
// provider and answers whether the caller holds system-wide uber admin status.
package identity

import (
	"context"

	"github.com/google/uuid"
)

// Principal describes the authenticated actor.
type Principal struct {
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	IsUberAdmin bool      `json:"is_uber_admin"`
}

type principalContextKey struct{}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok || p.UserID == uuid.Nil {
		return Principal{}, false
	}
	return p, true
}
