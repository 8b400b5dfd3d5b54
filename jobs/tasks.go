package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/agentsites/agentsites/internal/jobs"
)

const (
	// QueuePropagation carries push tasks.
	QueuePropagation = "propagation"
	// QueueMaintenance carries periodic scans.
	QueueMaintenance = "maintenance"
	// TaskPropagationPush fans an approved record out to branch sites.
	TaskPropagationPush = "propagation:push"
	// TaskPropagationStuckScan reports approved records that were never pushed.
	TaskPropagationStuckScan = "propagation:stuck-scan"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PropagationPushPayload identifies the record and the operator who asked for the push.
type PropagationPushPayload struct {
	UpdateID   uuid.UUID `json:"update_id"`
	ActorID    uuid.UUID `json:"actor_id"`
	ActorEmail string    `json:"actor_email"`
}

// NewPropagationPushTask constructs an Asynq task. The task id is the record id
// so a record is queued at most once at a time.
func NewPropagationPushTask(payload PropagationPushPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPropagationPush, data,
		asynq.Queue(QueuePropagation),
		asynq.TaskID(payload.UpdateID.String()),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	), nil
}

// StuckScanPayload configures the stuck record scan.
type StuckScanPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewStuckScanTask constructs an Asynq task for the stuck record scan.
func NewStuckScanTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(StuckScanPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPropagationStuckScan, body, asynq.Queue(QueueMaintenance), asynq.MaxRetry(1)), nil
}
