package propagationhttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agentsites/agentsites/internal/identity"
	"github.com/agentsites/agentsites/internal/platform/httpx"
	"github.com/agentsites/agentsites/internal/propagation"
	"github.com/agentsites/agentsites/internal/shared"
)

const (
	pushRateLimit  = 10
	pushRateWindow = time.Minute
)

type lifecycleService interface {
	Enqueue(ctx context.Context, actor identity.Principal, input propagation.EnqueueInput) (propagation.Record, error)
	Approve(ctx context.Context, actor identity.Principal, id uuid.UUID) (propagation.Record, error)
	Reject(ctx context.Context, actor identity.Principal, id uuid.UUID, reason string) (propagation.Record, error)
	Get(ctx context.Context, id uuid.UUID) (propagation.Record, error)
	List(ctx context.Context, filter propagation.ListFilter) ([]propagation.Record, error)
	History(ctx context.Context, id uuid.UUID) ([]shared.ApprovalLog, error)
}

type pushExecutor interface {
	Push(ctx context.Context, actor identity.Principal, recordID uuid.UUID) (propagation.PushResult, error)
}

// PushQueue hands a push to the background worker.
type PushQueue interface {
	EnqueuePush(ctx context.Context, recordID uuid.UUID, actor identity.Principal) error
}

// Handler exposes the propagation queue and the push trigger.
type Handler struct {
	logger    *slog.Logger
	service   lifecycleService
	pusher    pushExecutor
	queue     PushQueue
	validator *validator.Validate
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the handler. queue may be nil, in which case async
// requests are rejected.
func NewHandler(logger *slog.Logger, service lifecycleService, pusher pushExecutor, queue PushQueue) *Handler {
	limiter := httprate.Limit(pushRateLimit, pushRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "push rate limit exceeded")
		}),
	)
	return &Handler{
		logger:    logger,
		service:   service,
		pusher:    pusher,
		queue:     queue,
		validator: validator.New(),
		rateLimit: limiter,
	}
}

// MountRoutes registers /propagation/updates routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/updates", h.list)
	r.Post("/updates", h.enqueue)
	r.Get("/updates/{updateID}", h.get)
	r.Get("/updates/{updateID}/history", h.history)
	r.Post("/updates/{updateID}/approve", h.approve)
	r.Post("/updates/{updateID}/reject", h.reject)
}

// MountPushRoute registers POST /propagate-updates behind a per-user rate limit.
func (h *Handler) MountPushRoute(r chi.Router) {
	r.With(h.rateLimit).Post("/propagate-updates", h.push)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type pushRequest struct {
	UpdateID uuid.UUID `json:"updateId" validate:"required"`
	Async    bool      `json:"async"`
}

type pushResponse struct {
	propagation.PushResult
	Message string `json:"message"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := propagation.ListFilter{
		Status: propagation.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		Limit:  httpx.QueryInt(r, "limit", propagation.DefaultListLimit),
		Offset: httpx.QueryInt(r, "offset", 0),
	}
	records, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list propagation records", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updates": records})
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var input propagation.EnqueueInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := identity.PrincipalFromContext(r.Context())
	rec, err := h.service.Enqueue(r.Context(), actor, input)
	if err != nil {
		h.fail(w, "enqueue propagation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := updateID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get propagation record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := updateID(w, r)
	if !ok {
		return
	}
	logs, err := h.service.History(r.Context(), id)
	if err != nil {
		h.fail(w, "propagation history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := updateID(w, r)
	if !ok {
		return
	}
	actor, _ := identity.PrincipalFromContext(r.Context())
	rec, err := h.service.Approve(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "approve propagation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, ok := updateID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}
	actor, _ := identity.PrincipalFromContext(r.Context())
	rec, err := h.service.Reject(r.Context(), actor, id, req.Reason)
	if err != nil {
		h.fail(w, "reject propagation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) push(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := identity.PrincipalFromContext(r.Context())
	if req.Async {
		h.pushAsync(w, r, req.UpdateID, actor)
		return
	}
	result, err := h.pusher.Push(r.Context(), actor, req.UpdateID)
	if err != nil {
		h.fail(w, "push propagation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pushResponse{PushResult: result, Message: result.Summary()})
}

func (h *Handler) pushAsync(w http.ResponseWriter, r *http.Request, id uuid.UUID, actor identity.Principal) {
	if h.queue == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "background pushes are not configured")
		return
	}
	if !actor.IsUberAdmin {
		httpx.Problem(w, http.StatusForbidden, "Not Authorized", "push requires uber admin")
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "queue propagation push", err)
		return
	}
	if !propagation.CanTransition(rec.Status, propagation.StatusPushed) {
		h.fail(w, "queue propagation push", fmt.Errorf("%w: cannot push a %s record", shared.ErrInvalidTransition, rec.Status))
		return
	}
	if err := h.queue.EnqueuePush(r.Context(), id, actor); err != nil {
		h.fail(w, "queue propagation push", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"updateId": id, "queued": true})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func updateID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "updateID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Update", "update id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := identity.PrincipalFromContext(r.Context()); ok {
		return "user:" + p.UserID.String(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
