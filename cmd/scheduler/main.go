package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"engagement_backend/internal/activity"
	"engagement_backend/internal/email"
	"engagement_backend/internal/events"
	leadadapters "engagement_backend/internal/leads/adapters"
	leadrepo "engagement_backend/internal/leads/repository"
	"engagement_backend/internal/nurturing"
	"engagement_backend/internal/nurturing/channels"
	"engagement_backend/internal/nurturing/sequences"
	"engagement_backend/internal/scheduler"
	"engagement_backend/internal/telephony"
	"engagement_backend/internal/whatsapp"
	"engagement_backend/platform/config"
	"engagement_backend/platform/db"
	"engagement_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "queue", cfg.GetAsynqQueueName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	// Task executions must reach the API process, which owns notifications.
	if rdb, err := db.OpenRedis(ctx, cfg.GetRedisURL()); err != nil {
		log.Warn("event relay disabled", "error", err)
	} else {
		defer func() { _ = rdb.Close() }()
		if err := events.NewRedisRelay(rdb, eventBus, log).Forward(events.NurturingTaskExecuted{}.EventName()); err != nil {
			log.Error("failed to start event relay", "error", err)
			panic("failed to start event relay: " + err.Error())
		}
	}

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	templates, err := sequences.LoadFile(cfg.GetSequencesFile())
	if err != nil {
		log.Error("failed to load nurturing sequences", "error", err, "file", cfg.GetSequencesFile())
		panic("failed to load nurturing sequences: " + err.Error())
	}
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)
	go templates.ReloadOnSignal(ctx, cfg.GetSequencesFile(), reload, log)

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = client.Close() }()

	// Worker-side nurturing wiring (no HTTP handlers required).
	activitySvc := activity.New(activity.NewPostgresStore(pool), log)
	contacts := leadadapters.NewContactReaderAdapter(leadrepo.New(pool))

	dispatchOpts := []channels.Option{
		channels.WithEmail(sender),
		channels.WithSMS(telephony.NewRESTProvider(cfg, log)),
		channels.WithReminders(activitySvc),
		channels.WithBookingURL(cfg.GetBookingURL()),
	}
	if wa := whatsapp.NewClient(cfg, cfg.GetPhoneDefaultRegion(), log); wa.Enabled() {
		dispatchOpts = append(dispatchOpts, channels.WithWhatsApp(wa))
	}

	nurturingSvc := nurturing.New(nurturing.NewPostgresStore(pool), templates, log)
	nurturingSvc.SetDispatcher(channels.NewDispatcher(contacts, log, dispatchOpts...))
	nurturingSvc.SetActivityLogger(activitySvc)
	nurturingSvc.SetEventBus(eventBus)
	nurturingSvc.SetEnqueuer(client)

	resync := scheduler.NewResyncLoop(nurturingSvc, cfg.GetResyncInterval(), log)
	go resync.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, nurturingSvc, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
