package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"engagement_backend/internal/activity"
	"engagement_backend/internal/adapters/storage"
	"engagement_backend/internal/appointments"
	"engagement_backend/internal/calls"
	"engagement_backend/internal/email"
	"engagement_backend/internal/events"
	apphttp "engagement_backend/internal/http"
	"engagement_backend/internal/http/router"
	"engagement_backend/internal/leads"
	"engagement_backend/internal/notification"
	"engagement_backend/internal/notification/sse"
	"engagement_backend/internal/nurturing"
	"engagement_backend/internal/nurturing/channels"
	"engagement_backend/internal/nurturing/sequences"
	"engagement_backend/internal/scheduler"
	"engagement_backend/internal/telephony"
	"engagement_backend/internal/transcription"
	"engagement_backend/internal/transcription/advisor"
	"engagement_backend/internal/whatsapp"
	"engagement_backend/migrations"
	"engagement_backend/platform/config"
	"engagement_backend/platform/db"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if cfg.MigrateOnStart {
		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, cfg, migrations.FS)
		}); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete")
	}

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
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	// Redis carries the endpoint lease, status callbacks between instances
	// and nurturing events from the scheduler process.
	var rdb *redis.Client
	if cfg.GetRedisURL() != "" {
		r, err := db.OpenRedis(ctx, cfg.GetRedisURL())
		if err != nil {
			log.Warn("redis unavailable; lease and relays disabled", "error", err)
		} else {
			rdb = r
			defer func() { _ = rdb.Close() }()
			if err := events.NewRedisRelay(rdb, eventBus, log).Start(ctx); err != nil {
				log.Warn("event relay disabled", "error", err)
			}
		}
	}

	taskClient, closeScheduler := initTaskClient(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
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

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	// Operator push channel; the notification module turns domain events
	// into SSE messages.
	hub := sse.New(log)
	notificationModule := notification.New(hub, log)
	notificationModule.RegisterHandlers(eventBus)

	appointmentsModule := appointments.NewModule(pool, log)
	activitySvc := activity.New(activity.NewPostgresStore(pool), log)

	nurturingSvc := nurturing.New(nurturing.NewPostgresStore(pool), templates, log)
	nurturingSvc.SetActivityLogger(activitySvc)
	nurturingSvc.SetEventBus(eventBus)
	if taskClient != nil {
		nurturingSvc.SetEnqueuer(taskClient)
	}

	leadsModule := leads.NewModule(pool, leads.Deps{
		Calendar:     appointmentsModule.Service,
		Appointments: appointmentsModule.Service,
		Nurturing:    nurturingSvc,
		Activity:     activitySvc,
		EventBus:     eventBus,
		Validator:    val,
	}, cfg, log)

	provider := telephony.NewRESTProvider(cfg, log)

	// Wire channel dispatch: nurturing → leads contacts + email/WhatsApp/SMS
	dispatchOpts := []channels.Option{
		channels.WithEmail(sender),
		channels.WithSMS(provider),
		channels.WithReminders(activitySvc),
	}
	if wa := whatsapp.NewClient(cfg, cfg.GetPhoneDefaultRegion(), log); wa.Enabled() {
		dispatchOpts = append(dispatchOpts, channels.WithWhatsApp(wa))
	}
	nurturingSvc.SetDispatcher(channels.NewDispatcher(leadsModule.ContactReader(), log, dispatchOpts...))

	feeds, archive := initTranscription(ctx, cfg, hub, log)
	feeds.SetEventBus(eventBus)

	board := calls.NewSwitchboard(func(endpoint string) *calls.Controller {
		ctrl := calls.NewController(endpoint, provider, log,
			calls.WithFeedStarter(feeds),
			calls.WithRegion(cfg.GetPhoneDefaultRegion()),
		)
		ctrl.AddObserver(notificationModule.CallObserver(endpoint))
		ctrl.AddObserver(calls.EventObserver(eventBus, endpoint, log))
		return ctrl
	}, log)
	defer board.Close()

	var statusRouter telephony.StatusRouter = provider
	if rdb != nil {
		board.SetLease(calls.NewRedisLease(rdb, cfg.GetCallLeaseTTL()))
		relay := telephony.NewRedisStatusRelay(rdb, provider, log)
		if err := relay.Start(ctx); err != nil {
			log.Warn("status relay disabled", "error", err)
		} else {
			statusRouter = relay
		}
	}

	callLog := calls.NewRepository(pool)
	callLog.Subscribe(eventBus)

	callsHandler := calls.NewHandler(board, cfg.GetTelephonyCallerID(), val)
	callsHandler.SetSuggestionDismisser(feeds)
	callsHandler.SetCallLog(callLog)
	if archive != nil {
		callsHandler.SetTranscripts(callLog, archive)
	}
	callsModule := calls.NewModule(callsHandler)
	callsModule.SetStatusWebhook(telephony.StatusWebhook{
		Router: statusRouter,
		Secret: cfg.GetTelephonyWebhookSecret(),
		Log:    log,
	})

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   pool,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			notificationModule,
			callsModule,
			leadsModule,
			appointmentsModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initTaskClient(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; nurturing tasks will not be scheduled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

// transcriptionConfig is what the feed manager needs from configuration.
type transcriptionConfig interface {
	config.TranscriptionConfig
	config.AdvisorConfig
	config.MinIOConfig
}

func initTranscription(ctx context.Context, cfg transcriptionConfig, hub *sse.Service, log *logger.Logger) (*transcription.Manager, *storage.TranscriptArchive) {
	var dial transcription.Dialer
	if cfg.GetTranscriptionWSURL() != "" {
		dial = transcription.WebSocketDialer(cfg)
	} else {
		log.Warn("TRANSCRIPTION_WS_URL not configured; live transcription disabled")
	}

	chain := advisor.Chain{}
	if cfg.IsGeminiEnabled() {
		gemini, err := advisor.NewGeminiAnalyzer(ctx, cfg.GetGeminiAPIKey(), cfg.GetGeminiModel())
		if err != nil {
			log.Warn("gemini advisor disabled", "error", err)
		} else {
			chain = append(chain, gemini)
		}
	}
	chain = append(chain, advisor.NewKeywordAnalyzer())

	manager := transcription.NewManager(dial, chain, transcription.NewSSESink(hub), log)
	manager.SetConcurrency(cfg.GetAdvisoryConcurrency())

	if !cfg.IsMinIOEnabled() {
		return manager, nil
	}
	storageSvc, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}
	archive := storage.NewTranscriptArchive(storageSvc, cfg.GetMinioBucketTranscripts())
	if err := withRetry(ctx, log, "ensure transcripts bucket", 5, 2*time.Second, func() error {
		return archive.EnsureBucket(ctx)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", cfg.GetMinioBucketTranscripts())
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
	manager.SetArchiver(archive)
	log.Info("transcript archive initialized", "bucket", cfg.GetMinioBucketTranscripts())
	return manager, archive
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
