package sites

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/agentsites/agentsites/internal/identity"
	"github.com/agentsites/agentsites/internal/shared"
)

// RepositoryPort defines data access methods for sites.
type RepositoryPort interface {
	Create(ctx context.Context, site Site) (Site, error)
	Get(ctx context.Context, id uuid.UUID) (Site, error)
	List(ctx context.Context) ([]Site, error)
	ListBranches(ctx context.Context) ([]Site, error)
	SetMaster(ctx context.Context, id uuid.UUID) error
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
	ForEntity(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

const (
	auditEntity       = "agent_sites"
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// Service handles site registry business logic.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Create registers a new branch site.
func (s *Service) Create(ctx context.Context, actor identity.Principal, input CreateInput) (Site, error) {
	if !actor.IsUberAdmin {
		return Site{}, shared.ErrNotAuthorized
	}
	name := strings.TrimSpace(input.Name)
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if name == "" {
		return Site{}, fmt.Errorf("%w: site name required", shared.ErrValidation)
	}
	if !slugPattern.MatchString(slug) {
		return Site{}, fmt.Errorf("%w: slug must be lowercase words separated by hyphens", shared.ErrValidation)
	}
	site, err := s.repo.Create(ctx, Site{Name: name, Slug: slug, Status: StatusActive})
	if err != nil {
		return Site{}, err
	}
	s.recordAudit(ctx, actor, "SITE_CREATE", site.ID, map[string]any{"slug": site.Slug})
	return site, nil
}

// Get returns a site by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Site, error) {
	return s.repo.Get(ctx, id)
}

// List returns all sites.
func (s *Service) List(ctx context.Context) ([]Site, error) {
	return s.repo.List(ctx)
}

// Branches returns every non-master site.
func (s *Service) Branches(ctx context.Context) ([]Site, error) {
	return s.repo.ListBranches(ctx)
}

// SetMaster designates the master site.
func (s *Service) SetMaster(ctx context.Context, actor identity.Principal, id uuid.UUID) error {
	if !actor.IsUberAdmin {
		return shared.ErrNotAuthorized
	}
	if err := s.repo.SetMaster(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "SITE_SET_MASTER", id, nil)
	return nil
}

// SetStatus activates or deactivates a site.
func (s *Service) SetStatus(ctx context.Context, actor identity.Principal, id uuid.UUID, status Status) error {
	if !actor.IsUberAdmin {
		return shared.ErrNotAuthorized
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", shared.ErrValidation, status)
	}
	if err := s.repo.SetStatus(ctx, id, status); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "SITE_STATUS", id, map[string]any{"status": string(status)})
	return nil
}

// History returns registry changes for a site, newest first. Uber admins only.
func (s *Service) History(ctx context.Context, actor identity.Principal, id uuid.UUID, limit int) ([]shared.AuditLog, error) {
	if !actor.IsUberAdmin {
		return nil, shared.ErrNotAuthorized
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []shared.AuditLog{}, nil
	}
	page := shared.NewPage(limit, 0, defaultAuditLimit, maxAuditLimit)
	return s.audit.ForEntity(ctx, auditEntity, id.String(), page.Limit)
}

func (s *Service) recordAudit(ctx context.Context, actor identity.Principal, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor.UserID, Action: action, Entity: auditEntity, EntityID: id.String(), Meta: meta})
	if err != nil && s.logger != nil {
		s.logger.Warn("record site audit", slog.String("action", action), slog.Any("error", err))
	}
}
