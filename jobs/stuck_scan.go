package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/agentsites/agentsites/internal/jobs"
	"github.com/agentsites/agentsites/internal/propagation"
)

const defaultStuckAge = time.Hour

// RecordLister lists propagation records.
type RecordLister interface {
	List(ctx context.Context, filter propagation.ListFilter) ([]propagation.Record, error)
}

// StuckScanJob logs approved records that have waited too long for a push.
type StuckScanJob struct {
	Records RecordLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStuckScanJob initialises the scan handler.
func NewStuckScanJob(records RecordLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *StuckScanJob {
	return &StuckScanJob{
		Records: records,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle runs the scan.
func (j *StuckScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Records == nil {
		return errors.New("stuck scan: handler not configured")
	}
	var payload StuckScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = defaultStuckAge
	}

	tracker := j.metrics().Track(TaskPropagationStuckScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	stuck, err := j.scan(ctx, payload.OlderThan)
	if err != nil {
		j.logger().Error("scan failed", slog.Any("error", err))
		return err
	}
	for _, rec := range stuck {
		j.logger().Warn("approved record not pushed",
			slog.String("record", rec.ID.String()),
			slog.String("entity_type", string(rec.EntityType)),
			slog.Time("approved_at", *rec.ApprovedAt))
	}
	j.logger().Info("completed stuck scan", slog.Int("stuck", len(stuck)))
	return nil
}

func (j *StuckScanJob) scan(ctx context.Context, olderThan time.Duration) ([]propagation.Record, error) {
	cutoff := j.now().Add(-olderThan)
	var stuck []propagation.Record
	for offset := 0; ; offset += propagation.MaxListLimit {
		page, err := j.Records.List(ctx, propagation.ListFilter{Status: propagation.StatusApproved, Limit: propagation.MaxListLimit, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, rec := range page {
			if rec.ApprovedAt != nil && rec.ApprovedAt.Before(cutoff) {
				stuck = append(stuck, rec)
			}
		}
		if len(page) < propagation.MaxListLimit {
			return stuck, nil
		}
	}
}

func (j *StuckScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPropagationStuckScan))
	}
	return slog.Default().With(slog.String("job", TaskPropagationStuckScan))
}

func (j *StuckScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StuckScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
