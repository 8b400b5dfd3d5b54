package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentsites/agentsites/internal/shared"
)

// AllowListStore answers the persistent half of the uber admin lookup.
type AllowListStore interface {
	EmailAllowListed(ctx context.Context, email string) (bool, error)
	HasSystemRole(ctx context.Context, userID uuid.UUID) (bool, error)
}

// ProviderConfig collects Provider dependencies.
type ProviderConfig struct {
	Verifier   *Verifier
	Store      AllowListStore
	Cache      *redis.Client
	CacheTTL   time.Duration
	UberEmails []string
	Logger     *slog.Logger
}

// Provider resolves principals for requests and background jobs.
type Provider struct {
	verifier *Verifier
	store    AllowListStore
	cache    *redis.Client
	ttl      time.Duration
	static   map[string]struct{}
	logger   *slog.Logger
}

// NewProvider constructs a Provider.
func NewProvider(cfg ProviderConfig) *Provider {
	static := make(map[string]struct{}, len(cfg.UberEmails))
	for _, email := range cfg.UberEmails {
		email = normalizeEmail(email)
		if email != "" {
			static[email] = struct{}{}
		}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Provider{
		verifier: cfg.Verifier,
		store:    cfg.Store,
		cache:    cfg.Cache,
		ttl:      ttl,
		static:   static,
		logger:   cfg.Logger,
	}
}

// Resolve verifies the bearer token and builds the principal.
func (p *Provider) Resolve(ctx context.Context, token string) (Principal, error) {
	if strings.TrimSpace(token) == "" {
		return Principal{}, shared.ErrUnauthenticated
	}
	userID, email, err := p.verifier.Verify(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", shared.ErrUnauthenticated, err)
	}
	return p.Lookup(ctx, userID, email)
}

// Lookup builds the principal for an already authenticated user id.
func (p *Provider) Lookup(ctx context.Context, userID uuid.UUID, email string) (Principal, error) {
	if userID == uuid.Nil {
		return Principal{}, shared.ErrUnauthenticated
	}
	uber, err := p.IsUberAdmin(ctx, userID, email)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: userID, Email: email, IsUberAdmin: uber}, nil
}

// IsUberAdmin reports system-wide status: a static allow-listed email, a
// persisted allow-listed email, or a site-less uber_admin assignment.
func (p *Provider) IsUberAdmin(ctx context.Context, userID uuid.UUID, email string) (bool, error) {
	if _, ok := p.static[normalizeEmail(email)]; ok {
		return true, nil
	}
	if cached, ok := p.cached(ctx, userID); ok {
		return cached, nil
	}
	if p.store == nil {
		return false, nil
	}
	uber := false
	if email != "" {
		listed, err := p.store.EmailAllowListed(ctx, normalizeEmail(email))
		if err != nil {
			return false, fmt.Errorf("identity: allow-list lookup: %w", err)
		}
		uber = listed
	}
	if !uber {
		has, err := p.store.HasSystemRole(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("identity: system role lookup: %w", err)
		}
		uber = has
	}
	p.remember(ctx, userID, uber)
	return uber, nil
}

// Invalidate drops the cached uber admin status of a user.
func (p *Provider) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if p == nil || p.cache == nil {
		return nil
	}
	return p.cache.Del(ctx, cacheKey(userID)).Err()
}

func (p *Provider) cached(ctx context.Context, userID uuid.UUID) (bool, bool) {
	if p.cache == nil {
		return false, false
	}
	val, err := p.cache.Get(ctx, cacheKey(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.log().Warn("identity cache get", slog.Any("error", err))
		}
		return false, false
	}
	return val == "1", true
}

func (p *Provider) remember(ctx context.Context, userID uuid.UUID, uber bool) {
	if p.cache == nil {
		return
	}
	val := "0"
	if uber {
		val = "1"
	}
	if err := p.cache.Set(ctx, cacheKey(userID), val, p.ttl).Err(); err != nil {
		p.log().Warn("identity cache set", slog.Any("error", err))
	}
}

func (p *Provider) log() *slog.Logger {
	if p != nil && p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

func cacheKey(userID uuid.UUID) string {
	return "identity:uber:" + userID.String()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
