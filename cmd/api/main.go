package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/chatlink/internal/api/router"
	"github.com/wolfman30/chatlink/internal/app/bootstrap"
	"github.com/wolfman30/chatlink/internal/automation"
	appconfig "github.com/wolfman30/chatlink/internal/config"
	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/events"
	"github.com/wolfman30/chatlink/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/chatlink/internal/http/middleware"
	"github.com/wolfman30/chatlink/internal/identity"
	"github.com/wolfman30/chatlink/internal/messaging"
	"github.com/wolfman30/chatlink/internal/notify"
	"github.com/wolfman30/chatlink/internal/observability/metrics"
	"github.com/wolfman30/chatlink/internal/support"
	"github.com/wolfman30/chatlink/pkg/logging"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting chatlink API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"transport", cfg.Transport,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	var awsCfg *aws.Config
	if bootstrap.NeedsAWS(cfg) {
		loaded, err := bootstrap.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	registry, metricsHandler := setupMetrics()
	bus := events.NewBus(logger)

	factory, transportKind, err := bootstrap.BuildTransportFactory(cfg, logger)
	if err != nil {
		logger.Error("failed to build transport", "error", err)
		os.Exit(1)
	}
	sessions, err := bootstrap.BuildSessionStore(cfg, awsCfg)
	if err != nil {
		logger.Error("failed to build session store", "error", err)
		os.Exit(1)
	}

	manager, err := connection.NewManager(connection.ManagerConfig{
		Repository:       connection.NewStore(pool),
		Sessions:         sessions,
		Factory:          factory,
		Publisher:        bus,
		Metrics:          metrics.NewConnectionMetrics(registry),
		Logger:           logger,
		ReconnectBackoff: cfg.ReconnectBackoff,
		ConnectTimeout:   cfg.ConnectTimeout,
	})
	if err != nil {
		logger.Error("failed to build connection manager", "error", err)
		os.Exit(1)
	}

	messageStore := messaging.NewStore(pool)
	messagingMetrics := metrics.NewMessagingMetrics(registry)
	pipeline, err := messaging.NewPipeline(messaging.PipelineConfig{
		Repository:  messageStore,
		Connections: manager,
		Resolver:    identity.NewResolver(buildMappingStore(redisClient), logger),
		Publisher:   bus,
		Metrics:     messagingMetrics,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to build inbound pipeline", "error", err)
		os.Exit(1)
	}
	manager.SetInboundSink(pipeline)

	dispatcher, err := messaging.NewDispatcher(messaging.DispatcherConfig{
		Repository:      messageStore,
		Connections:     manager,
		Publisher:       bus,
		Metrics:         messagingMetrics,
		Logger:          logger,
		BulkMaxContacts: cfg.BulkMaxContacts,
		BulkMinDelay:    cfg.BulkMinDelay,
	})
	if err != nil {
		logger.Error("failed to build dispatcher", "error", err)
		os.Exit(1)
	}

	emailSender, emailKind := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	threads := support.NewThreadService(
		support.NewThreadStore(sqlDB),
		notify.NewService(emailSender, cfg.EscalationEmails, logger),
		logger,
	)

	worker, responderKind, err := setupAutomation(ctx, cfg, awsCfg, logger, automationDeps{
		messages:  messageStore,
		sender:    dispatcher,
		instances: manager,
		processed: events.NewProcessedStore(pool),
		threads:   threads,
		bus:       bus,
		registry:  registry,
	})
	if err != nil {
		logger.Error("failed to set up automation", "error", err)
		os.Exit(1)
	}

	if cfg.EventsQueueURL != "" {
		outbox := events.NewOutboxStore(pool)
		events.NewOutboxSink(outbox, logger).Attach(bus)
		handler := events.NewSQSDeliveryHandler(sqs.NewFromConfig(*awsCfg), cfg.EventsQueueURL)
		go events.NewDeliverer(outbox, handler, logger).Start(ctx)
		logger.Info("event outbox delivery enabled", "queue", cfg.EventsQueueURL)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Stop()

	r := router.New(&router.Config{
		Logger:             logger,
		Connections:        handlers.NewConnectionsHandler(manager, logger),
		Messages:           handlers.NewMessagesHandler(dispatcher, messageStore, logger),
		Threads:            handlers.NewThreadsHandler(threads, logger),
		EventFeed:          handlers.NewEventFeedHandler(bus, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		ReadinessChecks:    readinessChecks(pool, redisClient),
	})

	logger.Info("components ready",
		"transport", transportKind,
		"responder", responderKind,
		"email", emailKind,
		"redis", redisClient != nil,
	)

	if err := manager.Restore(ctx); err != nil {
		logger.Error("failed to restore connections", "error", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	manager.Shutdown(shutdownCtx)
	cancel()
	worker.Wait()

	logger.Info("server stopped")
}

// setupMetrics builds a private registry with the Go and process collectors and
// the handler that exposes it.
func setupMetrics() (*prometheus.Registry, http.Handler) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// buildMappingStore returns nil when Redis is unavailable so the resolver skips
// opaque-id lookups.
func buildMappingStore(client *redis.Client) identity.MappingStore {
	if client == nil {
		return nil
	}
	return identity.NewRedisMappingStore(client, otel.Tracer("chatlink/identity"))
}

type automationDeps struct {
	messages  automation.Messages
	sender    automation.Sender
	instances automation.Instances
	processed automation.ProcessedStore
	threads   automation.ThreadState
	bus       *events.Bus
	registry  prometheus.Registerer
}

// setupAutomation attaches the engine to the bus and starts its worker.
func setupAutomation(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger, deps automationDeps) (*automation.Worker, string, error) {
	responder, responderKind, err := bootstrap.BuildResponder(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, "", err
	}
	queue, queueKind, err := bootstrap.BuildJobQueue(cfg, awsCfg)
	if err != nil {
		return nil, "", err
	}

	engine, err := automation.NewEngine(automation.EngineConfig{
		Messages:         deps.messages,
		Sender:           deps.sender,
		Instances:        deps.instances,
		Responder:        responder,
		Queue:            queue,
		Processed:        deps.processed,
		Threads:          deps.threads,
		Detector:         bootstrap.BuildDetector(cfg, logger),
		Publisher:        deps.bus,
		Metrics:          metrics.NewAutomationMetrics(deps.registry),
		Logger:           logger,
		WindowSize:       cfg.ConversationWindow,
		SystemPrompt:     cfg.AutomationSystemPrompt,
		ResponderTimeout: cfg.ResponderTimeout,
	})
	if err != nil {
		return nil, "", err
	}
	engine.Attach(deps.bus)

	worker := automation.NewWorker(engine, queue, logger, automation.WithWorkerCount(cfg.AutomationWorkers))
	worker.Start(ctx)
	logger.Info("automation worker started", "queue", queueKind, "workers", cfg.AutomationWorkers)
	return worker, responderKind, nil
}

func readinessChecks(pool *pgxpool.Pool, redisClient *redis.Client) map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
