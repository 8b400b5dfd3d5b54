package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/agentsites/agentsites/internal/identity"
	"github.com/agentsites/agentsites/internal/platform/httpx"
)

const defaultWorkerConcurrency = 5

// queueWeights gives pushes priority over maintenance scans.
var queueWeights = map[string]int{
	QueuePropagation: 6,
	QueueMaintenance: 1,
}

// Queues lists every queue the worker consumes.
func Queues() []string {
	return []string{QueuePropagation, QueueMaintenance}
}

// Worker runs the asynq server and, when cron entries exist, a scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Concurrency int
	Logger      *slog.Logger
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return nil, errors.New("jobs: task handler needs a type and a func")
		}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultWorkerConcurrency
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:     concurrency,
		Queues:          queueWeights,
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler:    failureLogger(logger),
	})
	mux := asynq.NewServeMux()
	mux.Use(taskLogging(logger))
	for _, h := range cfg.Handlers {
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			id, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...)
			if err != nil {
				return nil, err
			}
			logger.Info("cron registered", slog.String("task", entry.Task.Type()), slog.String("spec", entry.Spec), slog.String("entry", id))
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run processes tasks until ctx is cancelled or the server stops.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
		defer w.scheduler.Shutdown()
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.logger.Info("worker started", slog.Any("queues", Queues()))
	<-ctx.Done()
	w.server.Shutdown()
	return ctx.Err()
}

func taskLogging(logger *slog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			start := time.Now()
			taskID, _ := asynq.GetTaskID(ctx)
			err := next.ProcessTask(ctx, task)
			logger.Debug("task processed",
				slog.String("task", task.Type()),
				slog.String("task_id", taskID),
				slog.Duration("elapsed", time.Since(start)),
				slog.Bool("ok", err == nil))
			return err
		})
	}
}

func failureLogger(logger *slog.Logger) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		logger.Warn("task failed",
			slog.String("task", task.Type()),
			slog.Int("retry", retried),
			slog.Int("max_retry", maxRetry),
			slog.Bool("final", errors.Is(err, asynq.SkipRetry) || retried >= maxRetry),
			slog.Any("error", err))
	}
}

// Client enqueues pushes for the worker.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts), inspector: asynq.NewInspector(redisOpts)}
}

// EnqueuePush queues a push of a record on behalf of actor. A push still
// waiting or running for the same record is left in place; an archived or
// completed one is replaced.
func (c *Client) EnqueuePush(ctx context.Context, recordID uuid.UUID, actor identity.Principal) error {
	task, err := NewPropagationPushTask(PropagationPushPayload{
		UpdateID:   recordID,
		ActorID:    actor.UserID,
		ActorEmail: actor.Email,
	})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}

	taskID := recordID.String()
	info, err := c.inspector.GetTaskInfo(QueuePropagation, taskID)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
	case err != nil:
		return fmt.Errorf("jobs: inspect push task: %w", err)
	case info.State == asynq.TaskStateArchived, info.State == asynq.TaskStateCompleted:
		if err := c.inspector.DeleteTask(QueuePropagation, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return fmt.Errorf("jobs: drop finished push task: %w", err)
		}
	default:
		return nil
	}

	_, err = c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}

// QueueInspector is the part of asynq.Inspector the health endpoint reads.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler serves queue health for operators.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs the handler. inspector may be nil.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue    string `json:"queue"`
	Pending  int    `json:"pending"`
	Active   int    `json:"active"`
	Retry    int    `json:"retry"`
	Archived int    `json:"archived"`
	Paused   bool   `json:"paused"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := make([]queueHealth, 0, len(queueWeights))
	for _, queue := range Queues() {
		status := queueHealth{Queue: queue}
		if h.inspector != nil {
			info, err := h.inspector.GetQueueInfo(queue)
			switch {
			case errors.Is(err, asynq.ErrQueueNotFound):
			case err != nil:
				if h.logger != nil {
					h.logger.Warn("jobs health", slog.String("queue", queue), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
				return
			case info != nil:
				status = queueHealth{Queue: queue, Pending: info.Pending, Active: info.Active, Retry: info.Retry, Archived: info.Archived, Paused: info.Paused}
			}
		}
		out = append(out, status)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": out})
}
