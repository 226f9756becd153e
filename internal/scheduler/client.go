package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"engagement_backend/internal/nurturing"
	"engagement_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// taskQueue is the asynq client surface the scheduler uses.
type taskQueue interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type Client struct {
	client    taskQueue
	queue     string
	retention time.Duration
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return newClient(asynq.NewClient(opt), cfg.GetAsynqQueueName()), nil
}

func newClient(q taskQueue, queue string) *Client {
	if queue == "" {
		queue = "default"
	}
	// Completed task ids are kept a while so a late duplicate enqueue still
	// collapses instead of running the task again.
	return &Client{client: q, queue: queue, retention: 24 * time.Hour}
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueNurturingTask schedules the task for its scheduledAt. A task already
// enqueued under the same id is not an error.
func (c *Client) EnqueueNurturingTask(ctx context.Context, t nurturing.Task) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewNurturingDueTask(NurturingTaskPayload{
		TaskID:   t.ID.String(),
		TenantID: t.OrganizationID.String(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.TaskID(NurturingTaskID(t.ID)),
		asynq.ProcessAt(t.ScheduledAt),
		asynq.Queue(c.queue),
		asynq.Retention(c.retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

var _ nurturing.Enqueuer = (*Client)(nil)

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
