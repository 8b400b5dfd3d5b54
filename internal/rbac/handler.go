package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agentsites/agentsites/internal/identity"
	"github.com/agentsites/agentsites/internal/platform/httpx"
	"github.com/agentsites/agentsites/internal/roles"
)

// Handler exposes role assignment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountSiteRoutes registers site scoped role routes under /sites/{siteID}/roles.
func (h *Handler) MountSiteRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireSiteRank(roles.Moderator))
		r.Get("/", h.listSiteAssignments)
		r.Get("/assignable", h.assignable)
	})
	r.Post("/", h.assignSiteRole)
	r.Delete("/{userID}/{role}", h.revokeSiteRole)
}

// MountRoutes registers system-wide role routes under /roles.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireUberAdmin())
		r.Post("/uber", h.assignUber)
		r.Delete("/uber/{userID}", h.revokeUber)
	})
}

// MountAuditRoutes registers /users/{userID}/role-audit.
func (h *Handler) MountAuditRoutes(r chi.Router) {
	r.Get("/{userID}/role-audit", h.auditTrail)
}

type assignRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Role   string    `json:"role" validate:"required,max=32"`
}

func (h *Handler) listSiteAssignments(w http.ResponseWriter, r *http.Request) {
	siteID, ok := h.siteID(w, r)
	if !ok {
		return
	}
	assignments, err := h.service.ListSiteAssignments(r.Context(), siteID)
	if err != nil {
		h.fail(w, "list site assignments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

func (h *Handler) assignable(w http.ResponseWriter, r *http.Request) {
	siteID, ok := h.siteID(w, r)
	if !ok {
		return
	}
	actor, _ := identity.PrincipalFromContext(r.Context())
	options, err := h.service.AssignableRoles(r.Context(), actor, siteID)
	if err != nil {
		h.fail(w, "assignable roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": options})
}

func (h *Handler) assignSiteRole(w http.ResponseWriter, r *http.Request) {
	siteID, ok := h.siteID(w, r)
	if !ok {
		return
	}
	h.assign(w, r, &siteID)
}

func (h *Handler) assignUber(w http.ResponseWriter, r *http.Request) {
	h.assign(w, r, nil)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request, siteID *uuid.UUID) {
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if siteID == nil && req.Role == "" {
		req.Role = string(roles.UberAdmin)
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := identity.PrincipalFromContext(r.Context())
	assignment, err := h.service.RequestAssign(r.Context(), actor, AssignInput{TargetUserID: req.UserID, Role: req.Role, SiteID: siteID})
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) revokeSiteRole(w http.ResponseWriter, r *http.Request) {
	siteID, ok := h.siteID(w, r)
	if !ok {
		return
	}
	h.revoke(w, r, chi.URLParam(r, "role"), &siteID)
}

func (h *Handler) revokeUber(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, string(roles.UberAdmin), nil)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request, role string, siteID *uuid.UUID) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User", "user id must be a uuid")
		return
	}
	actor, _ := identity.PrincipalFromContext(r.Context())
	if err := h.service.RequestRevoke(r.Context(), actor, RevokeInput{TargetUserID: userID, Role: role, SiteID: siteID}); err != nil {
		h.fail(w, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid User", "user id must be a uuid")
		return
	}
	actor, _ := identity.PrincipalFromContext(r.Context())
	entries, err := h.service.AuditTrail(r.Context(), actor, userID, httpx.QueryInt(r, "limit", DefaultAuditLimit))
	if err != nil {
		h.fail(w, "role audit trail", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) siteID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, SiteParam))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Site", "site id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
