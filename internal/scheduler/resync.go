package scheduler

import (
	"context"
	"time"

	"engagement_backend/platform/logger"
)

// Resyncer re-enqueues due nurturing tasks that never reached the queue.
type Resyncer interface {
	Resync(ctx context.Context, limit int) (int, error)
}

// ResyncLoop periodically asks the nurturing service to push overdue pending
// tasks back onto the queue. Task ids are deterministic, so a task that is
// already queued is not duplicated.
type ResyncLoop struct {
	source   Resyncer
	interval time.Duration
	batch    int
	log      *logger.Logger
}

func NewResyncLoop(source Resyncer, interval time.Duration, log *logger.Logger) *ResyncLoop {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ResyncLoop{source: source, interval: interval, batch: 100, log: log}
}

func (l *ResyncLoop) Run(ctx context.Context) {
	if l == nil || l.source == nil {
		return
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		l.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *ResyncLoop) tick(ctx context.Context) {
	n, err := l.source.Resync(ctx, l.batch)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Warn("nurturing resync failed", "error", err)
		}
		return
	}
	if n > 0 {
		l.log.Info("nurturing tasks re-enqueued", "count", n)
	}
}
