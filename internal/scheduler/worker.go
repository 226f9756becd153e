package scheduler

import (
	"context"
	"fmt"

	"engagement_backend/internal/nurturing"
	"engagement_backend/platform/apperr"
	"engagement_backend/platform/config"
	"engagement_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskExecutor runs one nurturing task.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, taskID uuid.UUID) (nurturing.Execution, error)
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	executor TaskExecutor
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, executor TaskExecutor, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	w := newWorker(executor, log)
	w.server = server
	return w, nil
}

func newWorker(executor TaskExecutor, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	w := &Worker{
		mux:      asynq.NewServeMux(),
		executor: executor,
		log:      log,
	}
	w.mux.HandleFunc(TaskNurturingDue, w.handleNurturingDue)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleNurturingDue executes the task. Payloads that can never succeed are
// not retried; store and channel failures are.
func (w *Worker) handleNurturingDue(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseNurturingTaskPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	taskID, err := uuid.Parse(payload.TaskID)
	if err != nil {
		return fmt.Errorf("invalid nurturing task id %q: %w", payload.TaskID, asynq.SkipRetry)
	}

	exec, err := w.executor.ExecuteTask(ctx, taskID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			w.log.Warn("nurturing task vanished before execution", "task_id", taskID, "tenant_id", payload.TenantID)
			return fmt.Errorf("nurturing task %s: %w", taskID, asynq.SkipRetry)
		}
		return err
	}

	w.log.Info("nurturing task handled",
		"task_id", taskID,
		"lead_id", exec.Task.LeadID,
		"channel", exec.Task.Channel,
		"status", exec.Task.Status,
		"executed", exec.Executed,
	)
	return nil
}
