package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/agentsites/agentsites/internal/identity"
	jobmetrics "github.com/agentsites/agentsites/internal/jobs"
	"github.com/agentsites/agentsites/internal/propagation"
	"github.com/agentsites/agentsites/internal/shared"
)

// ActorLookup re-resolves the operator that queued a push.
type ActorLookup interface {
	Lookup(ctx context.Context, userID uuid.UUID, email string) (identity.Principal, error)
}

// PushExecutor runs the fan-out.
type PushExecutor interface {
	Push(ctx context.Context, actor identity.Principal, recordID uuid.UUID) (propagation.PushResult, error)
}

// PropagationPushJob executes queued pushes.
type PropagationPushJob struct {
	Identity ActorLookup
	Pusher   PushExecutor
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewPropagationPushJob initialises the push handler.
func NewPropagationPushJob(identity ActorLookup, pusher PushExecutor, logger *slog.Logger, metrics *jobmetrics.Metrics) *PropagationPushJob {
	return &PropagationPushJob{Identity: identity, Pusher: pusher, Logger: logger, Metrics: metrics}
}

// Handle executes one push. Authorization and lifecycle failures are final;
// a held lock or a store error is retried.
func (j *PropagationPushJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Pusher == nil || j.Identity == nil {
		return errors.New("propagation push: handler not configured")
	}
	var payload PropagationPushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UpdateID == uuid.Nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPropagationPush)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("record", payload.UpdateID.String()),
		slog.String("actor", payload.ActorID.String()),
	)

	actor, err := j.Identity.Lookup(ctx, payload.ActorID, payload.ActorEmail)
	if err != nil {
		logger.Error("resolve actor", slog.Any("error", err))
		return err
	}
	result, err := j.Pusher.Push(ctx, actor, payload.UpdateID)
	if err != nil {
		if isFinal(err) {
			logger.Warn("push abandoned", slog.Any("error", err))
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		logger.Error("push failed", slog.Any("error", err))
		return err
	}
	logger.Info(result.Summary(), slog.Int("failed", len(result.Failed)))
	return nil
}

func isFinal(err error) bool {
	return errors.Is(err, shared.ErrNotAuthorized) ||
		errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrInvalidTransition) ||
		errors.Is(err, shared.ErrValidation)
}

func (j *PropagationPushJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPropagationPush))
	}
	return slog.Default().With(slog.String("job", TaskPropagationPush))
}

func (j *PropagationPushJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
