package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentsites/agentsites/internal/identity"
	"github.com/agentsites/agentsites/internal/platform/httpx"
	"github.com/agentsites/agentsites/internal/roles"
	"github.com/agentsites/agentsites/internal/shared"
)

// SiteParam is the chi URL parameter carrying the site id.
const SiteParam = "siteID"

// DenialRecorder counts rejected requests per gate.
type DenialRecorder interface {
	ObserveDenial(gate, reason string)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
	Denials DenialRecorder
}

const (
	gateUber     = "uber_admin"
	gateSiteRank = "site_rank"
)

func (m Middleware) deny(w http.ResponseWriter, gate string, err error) {
	if m.Denials != nil {
		reason := "error"
		switch {
		case errors.Is(err, shared.ErrUnauthenticated):
			reason = "unauthenticated"
		case errors.Is(err, shared.ErrNotAuthorized), errors.Is(err, shared.ErrPermissionDenied):
			reason = "forbidden"
		case errors.Is(err, shared.ErrNotFound):
			reason = "unknown_site"
		}
		m.Denials.ObserveDenial(gate, reason)
	}
	httpx.RespondError(w, err)
}

// RequireUberAdmin ensures the current principal holds system-wide uber admin status.
func (m Middleware) RequireUberAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := identity.PrincipalFromContext(r.Context())
			if !ok {
				m.deny(w, gateUber, shared.ErrUnauthenticated)
				return
			}
			if !principal.IsUberAdmin {
				m.deny(w, gateUber, shared.ErrNotAuthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSiteRank ensures the principal's effective rank at the site named by
// the URL is at least the rank of min.
func (m Middleware) RequireSiteRank(min roles.Role) func(http.Handler) http.Handler {
	required := roles.RankOf(min)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := identity.PrincipalFromContext(r.Context())
			if !ok {
				m.deny(w, gateSiteRank, shared.ErrUnauthenticated)
				return
			}
			siteID, err := uuid.Parse(chi.URLParam(r, SiteParam))
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Invalid Site", "site id must be a uuid")
				return
			}
			rank, err := m.Service.EffectiveRank(r.Context(), principal, siteID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require site rank", slog.Any("error", err))
				}
				m.deny(w, gateSiteRank, err)
				return
			}
			if rank < required {
				m.deny(w, gateSiteRank, shared.ErrPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
