package sites

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agentsites/agentsites/internal/identity"
	"github.com/agentsites/agentsites/internal/platform/httpx"
)

// Handler exposes the site registry over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers routes under /sites. Mutations are checked by the service.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{siteID}", h.get)
	r.Post("/{siteID}/master", h.setMaster)
	r.Post("/{siteID}/status", h.setStatus)
	r.Get("/{siteID}/history", h.history)
}

type statusRequest struct {
	Status Status `json:"status" validate:"required,oneof=active inactive"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sites, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list sites", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sites": sites})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := identity.PrincipalFromContext(r.Context())
	site, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "create site", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, site)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := siteID(w, r)
	if !ok {
		return
	}
	limit := httpx.QueryInt(r, "limit", 0)
	actor, _ := identity.PrincipalFromContext(r.Context())
	logs, err := h.service.History(r.Context(), actor, id, limit)
	if err != nil {
		h.fail(w, "site history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": logs})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := siteID(w, r)
	if !ok {
		return
	}
	site, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get site", err)
		return
	}
	httpx.JSON(w, http.StatusOK, site)
}

func (h *Handler) setMaster(w http.ResponseWriter, r *http.Request) {
	id, ok := siteID(w, r)
	if !ok {
		return
	}
	actor, _ := identity.PrincipalFromContext(r.Context())
	if err := h.service.SetMaster(r.Context(), actor, id); err != nil {
		h.fail(w, "set master site", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := siteID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := identity.PrincipalFromContext(r.Context())
	if err := h.service.SetStatus(r.Context(), actor, id, req.Status); err != nil {
		h.fail(w, "set site status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func siteID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "siteID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Site", "site id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}
