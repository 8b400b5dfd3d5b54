package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agentsites/agentsites/internal/platform/httpx"
	"github.com/agentsites/agentsites/internal/shared"
)

// Authenticate resolves the bearer token into a principal stored in the request context.
func (p *Provider) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := p.Resolve(r.Context(), BearerToken(r))
		if err != nil {
			if !errors.Is(err, shared.ErrUnauthenticated) {
				p.log().Error("resolve principal", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

