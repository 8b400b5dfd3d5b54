package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentsites/agentsites/internal/identity"
	"github.com/agentsites/agentsites/internal/shared"
	"github.com/agentsites/agentsites/internal/sites"
)

// ApprovalModule tags propagation entries in the approval history.
const ApprovalModule = "propagation"

// RepositoryPort defines data access methods for propagation records.
type RepositoryPort interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	List(ctx context.Context, filter ListFilter) ([]Record, error)
	Review(ctx context.Context, id uuid.UUID, to Status, actor uuid.UUID, at time.Time) (Record, error)
	MarkPushed(ctx context.Context, id uuid.UUID, at time.Time, targets, failed []uuid.UUID) (Record, error)
}

// SiteLookup exposes the site registry reads propagation needs.
type SiteLookup interface {
	Get(ctx context.Context, id uuid.UUID) (sites.Site, error)
	Branches(ctx context.Context) ([]sites.Site, error)
}

// ApprovalPort records and reads review history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AuditPort records generic audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the record lifecycle. It never touches branch-site data.
type Service struct {
	repo      RepositoryPort
	sites     SiteLookup
	approvals ApprovalPort
	audit     AuditPort
	logger    *slog.Logger
	clock     func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, sites SiteLookup, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		sites:     sites,
		approvals: approvals,
		audit:     audit,
		logger:    logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Enqueue captures a change on the master site as a pending record.
func (s *Service) Enqueue(ctx context.Context, actor identity.Principal, input EnqueueInput) (Record, error) {
	if !actor.IsUberAdmin {
		return Record{}, fmt.Errorf("%w: enqueue requires uber admin", shared.ErrNotAuthorized)
	}
	site, err := s.sites.Get(ctx, input.SiteID)
	if err != nil {
		return Record{}, err
	}
	if !site.IsMaster {
		return Record{}, fmt.Errorf("%w: site %s is not the master site", shared.ErrNotAuthorized, site.Slug)
	}
	st, err := StrategyFor(input.EntityType)
	if err != nil {
		return Record{}, err
	}
	if _, err := st.Plan(input.EntityData); err != nil {
		return Record{}, err
	}
	if input.EntityID == uuid.Nil {
		return Record{}, fmt.Errorf("%w: entity id required", shared.ErrValidation)
	}
	rec, err := s.repo.Insert(ctx, Record{
		SourceSiteID: site.ID,
		EntityType:   input.EntityType,
		EntityID:     input.EntityID,
		EntityData:   input.EntityData,
		Status:       StatusPending,
		CreatedBy:    actor.UserID,
		CreatedAt:    s.now(),
		Notes:        strings.TrimSpace(input.Notes),
	})
	if err != nil {
		return Record{}, err
	}
	s.recordApproval(ctx, rec.ID, actor.UserID, shared.ApprovalSubmit, rec.Notes)
	s.log().Info("propagation enqueued",
		slog.String("record", rec.ID.String()),
		slog.String("entity_type", string(rec.EntityType)),
		slog.String("actor", actor.UserID.String()))
	return rec, nil
}

// Approve moves a pending record to approved.
func (s *Service) Approve(ctx context.Context, actor identity.Principal, id uuid.UUID) (Record, error) {
	return s.review(ctx, actor, id, StatusApproved, "")
}

// Reject moves a pending record to rejected. Rejected records are never pushed.
func (s *Service) Reject(ctx context.Context, actor identity.Principal, id uuid.UUID, reason string) (Record, error) {
	return s.review(ctx, actor, id, StatusRejected, strings.TrimSpace(reason))
}

// Get returns a record by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.repo.Get(ctx, id)
}

// List returns records newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	page := shared.NewPage(filter.Limit, filter.Offset, DefaultListLimit, MaxListLimit)
	filter.Limit, filter.Offset = page.Limit, page.Offset
	return s.repo.List(ctx, filter)
}

// History returns the submit, review and push trail of a record, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	return s.approvals.List(ctx, ApprovalModule, id)
}

func (s *Service) review(ctx context.Context, actor identity.Principal, id uuid.UUID, to Status, note string) (Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !actor.IsUberAdmin {
		return Record{}, fmt.Errorf("%w: review requires uber admin", shared.ErrNotAuthorized)
	}
	if !CanTransition(rec.Status, to) {
		return Record{}, fmt.Errorf("%w: %s to %s", shared.ErrInvalidTransition, rec.Status, to)
	}
	updated, err := s.repo.Review(ctx, id, to, actor.UserID, s.now())
	if err != nil {
		return Record{}, err
	}
	action := shared.ApprovalApprove
	if to == StatusRejected {
		action = shared.ApprovalReject
	}
	s.recordApproval(ctx, id, actor.UserID, action, note)
	s.recordAudit(ctx, actor.UserID, "PROPAGATION_"+strings.ToUpper(string(to)), id, map[string]any{"entity_type": string(rec.EntityType)})
	return updated, nil
}

func (s *Service) recordApproval(ctx context.Context, id, actor uuid.UUID, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{Module: ApprovalModule, RefID: id, ActorID: actor, Action: action, Note: note}); err != nil {
		s.log().Warn("record propagation approval", slog.String("record", id.String()), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor uuid.UUID, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "master_site_updates", EntityID: id.String(), Meta: meta}); err != nil {
		s.log().Warn("record propagation audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}
