package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/agentsites/agentsites/internal/identity"
	jobmetrics "github.com/agentsites/agentsites/internal/jobs"
	"github.com/agentsites/agentsites/internal/shared"
)

// Pusher defaults.
const (
	DefaultConcurrency = 4
	DefaultSiteTimeout = 10 * time.Second
	DefaultLockTTL     = 5 * time.Minute
)

// PusherConfig collects the dependencies of a Pusher.
type PusherConfig struct {
	Records     RepositoryPort
	Sites       SiteLookup
	Entities    EntityStore
	Approvals   ApprovalPort
	Redis       *redis.Client
	LockTTL     time.Duration
	Concurrency int
	SiteTimeout time.Duration
	Metrics     *jobmetrics.Metrics
	Logger      *slog.Logger
}

// Pusher fans an approved record out to every branch site.
type Pusher struct {
	records     RepositoryPort
	sites       SiteLookup
	entities    EntityStore
	approvals   ApprovalPort
	lock        pushLock
	concurrency int
	siteTimeout time.Duration
	metrics     *jobmetrics.Metrics
	logger      *slog.Logger
	clock       func() time.Time
}

// NewPusher constructs a Pusher, filling defaults for unset limits.
func NewPusher(cfg PusherConfig) *Pusher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.SiteTimeout <= 0 {
		cfg.SiteTimeout = DefaultSiteTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Pusher{
		records:     cfg.Records,
		sites:       cfg.Sites,
		entities:    cfg.Entities,
		approvals:   cfg.Approvals,
		lock:        pushLock{client: cfg.Redis, ttl: cfg.LockTTL},
		concurrency: cfg.Concurrency,
		siteTimeout: cfg.SiteTimeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Push applies an approved record to all branch sites and marks it pushed.
// Per-site failures are reported in the result, never returned as an error.
func (p *Pusher) Push(ctx context.Context, actor identity.Principal, recordID uuid.UUID) (PushResult, error) {
	if !actor.IsUberAdmin {
		return PushResult{}, fmt.Errorf("%w: push requires uber admin", shared.ErrNotAuthorized)
	}
	if _, err := p.pushable(ctx, recordID); err != nil {
		return PushResult{}, err
	}

	release, err := p.lock.acquire(ctx, recordID)
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			p.metrics.ObserveLockContention()
		}
		return PushResult{}, err
	}
	defer release()

	// Another push may have finished between the first read and the lock.
	rec, err := p.pushable(ctx, recordID)
	if err != nil {
		return PushResult{}, err
	}
	st, err := StrategyFor(rec.EntityType)
	if err != nil {
		return PushResult{}, err
	}

	branches, err := p.sites.Branches(ctx)
	if err != nil {
		return PushResult{}, fmt.Errorf("propagation: list branch sites: %w", err)
	}

	start := time.Now()
	outcomes := make([]error, len(branches))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, site := range branches {
		g.Go(func() error {
			siteCtx, cancel := context.WithTimeout(ctx, p.siteTimeout)
			defer cancel()
			outcomes[i] = p.apply(siteCtx, st, site.ID, rec.EntityData)
			return nil
		})
	}
	_ = g.Wait()
	p.metrics.ObserveFanout(string(rec.EntityType), time.Since(start))

	result := PushResult{Success: []string{}, Failed: []string{}, Total: len(branches)}
	targets := make([]uuid.UUID, 0, len(branches))
	var failed []uuid.UUID
	for i, site := range branches {
		targets = append(targets, site.ID)
		p.metrics.ObserveTarget(string(rec.EntityType), outcomes[i] == nil)
		if outcomes[i] != nil {
			result.Failed = append(result.Failed, site.Name)
			failed = append(failed, site.ID)
			p.log().Warn("propagation target failed",
				slog.String("record", recordID.String()),
				slog.String("site_id", site.ID.String()),
				slog.String("site_name", site.Name),
				slog.Any("error", outcomes[i]))
			continue
		}
		result.Success = append(result.Success, site.Name)
	}

	p.metrics.ObservePush(string(rec.EntityType), len(result.Success), result.Total)

	if _, err := p.records.MarkPushed(ctx, recordID, p.now(), targets, failed); err != nil {
		return result, fmt.Errorf("propagation: mark pushed: %w", err)
	}
	p.recordApproval(ctx, recordID, actor.UserID, result.Summary())
	p.log().Info("propagation pushed",
		slog.String("record", recordID.String()),
		slog.String("entity_type", string(rec.EntityType)),
		slog.Int("total", result.Total),
		slog.Int("failed", len(result.Failed)))
	return result, nil
}

// pushable loads a record and checks that it may move to pushed.
func (p *Pusher) pushable(ctx context.Context, recordID uuid.UUID) (Record, error) {
	rec, err := p.records.Get(ctx, recordID)
	if err != nil {
		return Record{}, err
	}
	if !CanTransition(rec.Status, StatusPushed) {
		return Record{}, fmt.Errorf("%w: cannot push a %s record", shared.ErrInvalidTransition, rec.Status)
	}
	return rec, nil
}

func (p *Pusher) apply(ctx context.Context, st Strategy, siteID uuid.UUID, snapshot Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("propagation: upsert panic: %v", r)
		}
	}()
	_, err = Upsert(ctx, p.entities, st, siteID, snapshot)
	return err
}

func (p *Pusher) recordApproval(ctx context.Context, id, actor uuid.UUID, note string) {
	if p.approvals == nil {
		return
	}
	if err := p.approvals.Record(ctx, shared.ApprovalLog{Module: ApprovalModule, RefID: id, ActorID: actor, Action: shared.ApprovalPush, Note: note}); err != nil {
		p.log().Warn("record propagation push", slog.String("record", id.String()), slog.Any("error", err))
	}
}

func (p *Pusher) now() time.Time {
	if p.clock != nil {
		return p.clock()
	}
	return time.Now().UTC()
}

func (p *Pusher) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// WithClock overrides the internal clock for deterministic tests.
func (p *Pusher) WithClock(clock func() time.Time) {
	if clock != nil {
		p.clock = clock
	}
}
