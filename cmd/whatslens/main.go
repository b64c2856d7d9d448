package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatslens/internal/analytics"
	"whatslens/internal/bus"
	"whatslens/internal/config"
	"whatslens/internal/constants"
	"whatslens/internal/correlation"
	"whatslens/internal/database"
	"whatslens/internal/journey"
	"whatslens/internal/kv"
	"whatslens/internal/middleware"
	"whatslens/internal/models"
	"whatslens/internal/retry"
	"whatslens/internal/service"
	"whatslens/internal/tracing"
	"whatslens/internal/ws"
	"whatslens/pkg/circuitbreaker"
	"whatslens/pkg/wadriver"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	version = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("WhatsLens %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := buildLogger(cfg)
	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
		"env":     cfg.Env,
	}).Info("Starting WhatsLens")

	tracingConfig := tracing.DefaultTracingConfig()
	tracingConfig.ServiceVersion = Version
	tracingConfig.Environment = cfg.Env
	tracingManager := tracing.NewTracingManager(tracingConfig, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// The database and the KV store come up in unknown order next to the
	// service in container deployments, so connect with backoff.
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database, logger)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	if cfg.Demo.Enabled {
		if err := seedDemoData(ctx, db, cfg.Demo, logger); err != nil {
			logger.WithError(err).Warn("Demo seed failed; continuing without demo data")
		}
	}

	kvClient, err := kv.New(ctx, cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to the KV store: %w", err)
	}
	defer kvClient.Close()

	cache := kv.NewCache(kvClient)
	limiter := kv.NewRateLimiter(kvClient)
	eventBus := bus.New(kvClient, logger)

	encryptor, err := kv.NewEncryptor()
	if err != nil {
		return fmt.Errorf("failed to initialize auth blob encryption: %w", err)
	}
	authStore := service.NewKVAuthStore(kv.NewSessionStore(kvClient, encryptor, cfg.Redis.TTL))

	events := service.NewEventProcessor(db, kv.NewQueue(kvClient, constants.EventQueueName), eventBus, cfg.Events, logger)
	contacts := service.NewContactService(db, logger)
	notifier := service.NewNotifier(db, cache, eventBus, logger)
	handler := service.NewMessageHandler(db, contacts, events, eventBus, logger)

	factory, err := wadriver.NewMeowFactory(ctx, cfg.Database.StoreDSN, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize the WhatsApp device store: %w", err)
	}

	supervisor := service.NewSupervisor(db, cache, eventBus, factory, authStore,
		handler, events, notifier, cfg.Sessions, cfg.Features, logger)
	supervisor.SetContactSyncer(contacts)

	messenger := service.NewMessenger(db, db, db, supervisor, eventBus, events, logger)
	conversations := service.NewConversations(db, db, eventBus, logger)

	breaker := circuitbreaker.NewWithLogger("behavioral-matcher", 5, 30*time.Second, logger)
	engine := correlation.NewEngine(db,
		correlation.NewPhoneMatcher(db, cache, os.Getenv("WHATSLENS_DEFAULT_COUNTRY"), logger),
		correlation.NewEmailMatcher(db, logger),
		correlation.NewSessionMatcher(db, logger),
		correlation.NewBehavioralMatcher(db, breaker, logger),
		models.CorrelationOptions{
			AutoVerifyThreshold:    cfg.Correlation.AutoVerifyThreshold,
			MinConfidenceThreshold: cfg.Correlation.MinConfidenceThreshold,
			EnableBehavioral:       cfg.Features.EnableBehavioral,
			EnableJourneyMapping:   cfg.Features.EnableJourneyMapping,
			BatchSize:              cfg.Correlation.BatchSize,
		}, logger)

	reviewer := correlation.NewManager(db, cache, func(teamID string) correlation.ReviewQueue {
		return kv.NewQueue(kvClient, correlation.VerificationQueueName(teamID))
	}, logger)
	reviewer.SetNotifier(notifier)
	engine.SetVerifier(reviewer)
	if cfg.Features.EnableJourneyMapping {
		engine.SetJourneyMapper(journey.NewMapper(db, logger))
	}
	handler.SetCorrelator(engine)

	metricsService := analytics.NewMetrics(db, cache, analytics.Options{
		CacheEnabled: cfg.Analytics.CacheEnabled,
		CacheTTL:     cfg.Analytics.CacheTTL,
	}, logger)
	realtime := analytics.NewRealtime(db, cache, eventBus, eventBus, analytics.RealtimeOptions{
		Interval: cfg.Analytics.RealtimeInterval,
		Thresholds: models.AlertThresholds{
			MaxResponseSeconds: 600,
			MaxQueueLength:     25,
			MaxWaitingSeconds:  900,
		},
	}, logger)
	realtime.SetNotifier(notifier)
	suite := analytics.NewSuite(metricsService, realtime, logger)
	reports := analytics.NewGenerator(suite, cache, cfg.Reports.Dir, logger)

	hub := ws.NewHub(eventBus, logger)
	verifier := middleware.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	wsHandler := ws.NewHandler(hub, verifier, logger)

	go func() {
		if err := supervisor.Run(ctx); err != nil {
			logger.WithError(err).Error("Session supervisor stopped")
		}
	}()
	defer supervisor.Shutdown()

	go events.Run(ctx)
	defer events.Stop()

	go func() {
		if err := hub.Run(ctx); err != nil {
			logger.WithError(err).Error("WebSocket hub stopped")
		}
	}()
	go realtime.Run(ctx, hub)

	scheduler := service.NewScheduler(logger)
	scheduler.Register("event-retention", constants.EventCleanupInterval, func(ctx context.Context) error {
		_, err := events.CleanupOldEvents(ctx)
		return err
	})
	scheduler.Register("idle-sessions", constants.DefaultIdleSweepInterval, func(ctx context.Context) error {
		supervisor.CleanupInactiveSessions(ctx)
		return nil
	})
	scheduler.Register("auto-approve", constants.AutoApproveInterval, func(ctx context.Context) error {
		_, err := reviewer.AutoApprove(ctx, cfg.Correlation.AutoVerifyThreshold, "system")
		return err
	})
	scheduler.Register("report-cleanup", constants.ReportCleanupInterval, func(ctx context.Context) error {
		_, err := reports.CleanupOld(ctx)
		return err
	})
	scheduler.Register("notification-cleanup", constants.NotificationCleanupInterval, func(ctx context.Context) error {
		_, err := notifier.CleanupOld(ctx)
		return err
	})
	scheduler.Register("idle-conversations", constants.IdleConversationInterval, func(ctx context.Context) error {
		_, err := conversations.CloseIdle(ctx, constants.IdleConversationAfter)
		return err
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server := NewServer(cfg, Services{
		Sessions:      supervisor,
		Messages:      messenger,
		Conversations: conversations,
		Contacts:      contacts,
		Analytics:     suite,
		Metrics:       metricsService,
		Realtime:      realtime,
		Reports:       reports,
		Correlations:  engine,
		Verification:  reviewer,
		Notifications: notifier,
	}, verifier, limiter, wsHandler, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// buildLogger configures output format, level, and the optional rotating
// log file from the loaded configuration.
func buildLogger(cfg *models.Config) *logrus.Logger {
	logger := logrus.New()

	if cfg.Log.Structured {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if cfg.Log.Level != "" {
		level, err := logrus.ParseLevel(cfg.Log.Level)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.Log.Level)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Log.File != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}))
	}

	return logger
}
