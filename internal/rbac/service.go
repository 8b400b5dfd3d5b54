package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentsites/agentsites/internal/identity"
	"github.com/agentsites/agentsites/internal/roles"
	"github.com/agentsites/agentsites/internal/shared"
	"github.com/agentsites/agentsites/internal/sites"
)

// RepositoryPort defines data access methods used by Service.
type RepositoryPort interface {
	ListUserRoles(ctx context.Context, userID, siteID uuid.UUID) ([]roles.Role, error)
	ListSiteAssignments(ctx context.Context, siteID uuid.UUID) ([]Assignment, error)
	Assign(ctx context.Context, a Assignment, entry AuditEntry) (Assignment, bool, error)
	Revoke(ctx context.Context, userID uuid.UUID, role roles.Role, siteID *uuid.UUID, entry AuditEntry) error
	ListAudit(ctx context.Context, targetUserID uuid.UUID, limit int) ([]AuditEntry, error)
}

// SiteLookup resolves the site a scoped assignment refers to.
type SiteLookup interface {
	Get(ctx context.Context, id uuid.UUID) (sites.Site, error)
}

// IdentityCache drops cached uber admin status after system role changes.
type IdentityCache interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// Service gates role mutations behind the role hierarchy.
type Service struct {
	repo     RepositoryPort
	sites    SiteLookup
	identity IdentityCache
	logger   *slog.Logger
	clock    func() time.Time
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, sites SiteLookup, identity IdentityCache, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		sites:    sites,
		identity: identity,
		logger:   logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// EffectiveRank returns the actor's rank at a site.
func (s *Service) EffectiveRank(ctx context.Context, actor identity.Principal, siteID uuid.UUID) (int, error) {
	return s.rank(ctx, actor, &siteID)
}

// AssignableRoles lists the roles the actor may grant at a site, for role pickers.
func (s *Service) AssignableRoles(ctx context.Context, actor identity.Principal, siteID uuid.UUID) ([]roles.Option, error) {
	rank, err := s.rank(ctx, actor, &siteID)
	if err != nil {
		return nil, err
	}
	return roles.Options(roles.AssignableRoles(rank, actor.IsUberAdmin)), nil
}

// RequestAssign grants a role when the actor strictly outranks it.
func (s *Service) RequestAssign(ctx context.Context, actor identity.Principal, input AssignInput) (Assignment, error) {
	role, err := parseScoped(input.Role, input.SiteID)
	if err != nil {
		return Assignment{}, err
	}
	if input.TargetUserID == uuid.Nil {
		return Assignment{}, fmt.Errorf("%w: target user required", shared.ErrValidation)
	}
	rank, err := s.rank(ctx, actor, input.SiteID)
	if err != nil {
		return Assignment{}, err
	}
	if !roles.CanAssign(rank, actor.IsUberAdmin, role) {
		return Assignment{}, fmt.Errorf("%w: rank %d cannot assign %s", shared.ErrPermissionDenied, rank, role)
	}
	if err := s.ensureSite(ctx, input.SiteID); err != nil {
		return Assignment{}, err
	}
	now := s.now()
	assignment, created, err := s.repo.Assign(ctx, Assignment{
		UserID:    input.TargetUserID,
		Role:      role,
		SiteID:    input.SiteID,
		GrantedBy: actor.UserID,
	}, AuditEntry{
		TargetUserID: input.TargetUserID,
		Action:       AuditAssigned,
		Role:         role,
		SiteID:       input.SiteID,
		ActorID:      actor.UserID,
		CreatedAt:    now,
	})
	if err != nil {
		return Assignment{}, err
	}
	if created {
		s.afterMutation(ctx, input.TargetUserID, role)
		s.log().Info("role assigned",
			slog.String("actor", actor.UserID.String()),
			slog.String("target", input.TargetUserID.String()),
			slog.String("role", string(role)),
			slog.String("site", siteLabel(input.SiteID)))
	}
	return assignment, nil
}

// RequestRevoke removes a role when the actor strictly outranks it.
func (s *Service) RequestRevoke(ctx context.Context, actor identity.Principal, input RevokeInput) error {
	role, err := parseScoped(input.Role, input.SiteID)
	if err != nil {
		return err
	}
	rank, err := s.rank(ctx, actor, input.SiteID)
	if err != nil {
		return err
	}
	if !roles.CanRevoke(rank, actor.IsUberAdmin, role) {
		return fmt.Errorf("%w: rank %d cannot revoke %s", shared.ErrPermissionDenied, rank, role)
	}
	err = s.repo.Revoke(ctx, input.TargetUserID, role, input.SiteID, AuditEntry{
		TargetUserID: input.TargetUserID,
		Action:       AuditRemoved,
		Role:         role,
		SiteID:       input.SiteID,
		ActorID:      actor.UserID,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return err
	}
	s.afterMutation(ctx, input.TargetUserID, role)
	s.log().Info("role revoked",
		slog.String("actor", actor.UserID.String()),
		slog.String("target", input.TargetUserID.String()),
		slog.String("role", string(role)),
		slog.String("site", siteLabel(input.SiteID)))
	return nil
}

// ListSiteAssignments returns the role assignments of a site.
func (s *Service) ListSiteAssignments(ctx context.Context, siteID uuid.UUID) ([]Assignment, error) {
	return s.repo.ListSiteAssignments(ctx, siteID)
}

// AuditTrail returns the role audit log for a target user, newest first.
// Users may read their own trail; everyone else needs uber admin status.
func (s *Service) AuditTrail(ctx context.Context, actor identity.Principal, targetUserID uuid.UUID, limit int) ([]AuditEntry, error) {
	if !actor.IsUberAdmin && actor.UserID != targetUserID {
		return nil, shared.ErrNotAuthorized
	}
	page := shared.NewPage(limit, 0, DefaultAuditLimit, MaxAuditLimit)
	return s.repo.ListAudit(ctx, targetUserID, page.Limit)
}

func (s *Service) rank(ctx context.Context, actor identity.Principal, siteID *uuid.UUID) (int, error) {
	if actor.IsUberAdmin {
		return roles.RankUberAdmin, nil
	}
	if siteID == nil || actor.UserID == uuid.Nil {
		return roles.RankNone, nil
	}
	held, err := s.repo.ListUserRoles(ctx, actor.UserID, *siteID)
	if err != nil {
		return roles.RankNone, err
	}
	return roles.EffectiveRank(roles.Subject{Roles: held}), nil
}

func (s *Service) ensureSite(ctx context.Context, siteID *uuid.UUID) error {
	if siteID == nil || s.sites == nil {
		return nil
	}
	_, err := s.sites.Get(ctx, *siteID)
	return err
}

func (s *Service) afterMutation(ctx context.Context, userID uuid.UUID, role roles.Role) {
	if role != roles.UberAdmin || s.identity == nil {
		return
	}
	if err := s.identity.Invalidate(ctx, userID); err != nil {
		s.log().Warn("invalidate identity cache", slog.String("user", userID.String()), slog.Any("error", err))
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

func parseScoped(name string, siteID *uuid.UUID) (roles.Role, error) {
	role, ok := roles.Parse(name)
	if !ok {
		return "", fmt.Errorf("%w: unknown role %q", shared.ErrValidation, name)
	}
	if role.Scoped() && siteID == nil {
		return "", fmt.Errorf("%w: role %s requires a site", shared.ErrValidation, role)
	}
	if !role.Scoped() && siteID != nil {
		return "", fmt.Errorf("%w: role %s is system-wide", shared.ErrValidation, role)
	}
	return role, nil
}

func siteLabel(siteID *uuid.UUID) string {
	if siteID == nil {
		return "system"
	}
	return siteID.String()
}
