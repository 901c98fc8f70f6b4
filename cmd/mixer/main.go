package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"
	"talkmix/internal/core/services"
	httphandlers "talkmix/internal/handlers/http"
	"talkmix/internal/infrastructure/distributed"
	"talkmix/internal/infrastructure/engine"
	"talkmix/internal/infrastructure/middleware"
	"talkmix/internal/infrastructure/monitoring"
	controlsignal "talkmix/internal/infrastructure/signal"
	"talkmix/internal/infrastructure/sinks"
	"talkmix/pkg/config"
	"talkmix/pkg/logger"
	"talkmix/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/mixer.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet.
		fmt.Fprintf(os.Stderr, "talkmix: %v\n", err)
		os.Exit(1)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.New().String()
	}

	build := logger.New
	if cfg.Logging.Format == "console" {
		build = logger.NewDevelopment
	}
	zapLogger, err := build(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "talkmix: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar().With("instance_id", cfg.InstanceID)

	tp, err := tracing.Init(cfg.Tracing, version)
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics ports.MetricsCollector = monitoring.NewNopCollector()
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(registry)
	}

	eng, err := engine.NewSoftware(engine.Config{
		FrameRate:   cfg.Mixer.FrameRate,
		SampleRate:  cfg.Mixer.SampleRate,
		Channels:    cfg.Mixer.Channels,
		MaxSources:  cfg.Mixer.MaxSources,
		MaxBuffered: cfg.Mixer.MaxBuffered,
	}, log.Named("engine"))
	if err != nil {
		log.Fatalw("Failed to create engine", "error", err)
	}

	manager := sinks.NewManager(
		sinks.NewFactory(cfg.Mixer.SampleRate, cfg.Mixer.Channels, log.Named("sinks")),
		sinks.WorkerConfig{
			QueueSize: cfg.SinkQueue.QueueSize,
			Retry:     cfg.SinkQueue.Retry,
			Breaker:   cfg.SinkQueue.Breaker,
			// a single removal never outlasts a whole drain
			FinalizeTimeout: cfg.Mixer.DrainTimeout,
		},
		metrics,
		log.Named("sinks"),
	)

	health := monitoring.NewHealthChecker(log.Named("health"))
	publisher := distributed.NewMultiPublisher(distributed.NewLogPublisher(log.Named("events")))

	// Optional Redis: event fan-out, instance heartbeat and output claims.
	var registryClient *distributed.InstanceRegistry
	if cfg.Redis.Enabled {
		client, err := distributed.NewClient(ctx, distributed.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, log.Named("redis"))
		if err != nil {
			log.Fatalw("Failed to connect to Redis", "error", err)
		}
		defer client.Close()

		publisher.Add(distributed.NewEventBus(client, cfg.InstanceID, cfg.Redis.Channel, log.Named("event_bus")))
		registryClient = distributed.NewInstanceRegistry(client, cfg.InstanceID, cfg.Redis.InstanceTTL, log.Named("instances"))
		manager.SetOutputGuard(registryClient)
		health.AddRedisCheck(client, cfg.Monitoring.HealthCheckInterval, 2*time.Second)
	}

	resolution, _ := domain.ParseResolution(cfg.Mixer.Resolution)
	layout, _ := domain.ParseLayoutKind(cfg.Mixer.Layout)
	blind, _ := domain.ParseBlindMode(cfg.Mixer.BlindMode)

	sessionCfg := services.DefaultSessionConfig()
	sessionCfg.InstanceID = cfg.InstanceID
	sessionCfg.Layout = layout
	sessionCfg.MaxVisible = cfg.Mixer.MaxVisible
	sessionCfg.Resolution = resolution
	sessionCfg.Title = cfg.Mixer.Title
	sessionCfg.ShowTitle = cfg.Mixer.ShowTitle
	sessionCfg.Clock = cfg.Mixer.Clock
	sessionCfg.ClockFormat = cfg.Mixer.ClockFormat
	sessionCfg.ShowStreamTitles = cfg.Mixer.ShowStreamTitles
	sessionCfg.BlindMode = blind
	sessionCfg.DrainTimeout = cfg.Mixer.DrainTimeout

	session, err := services.NewSession(sessionCfg, eng, manager, publisher, metrics, log.Named("session"))
	if err != nil {
		log.Fatalw("Failed to create session", "error", err)
	}
	manager.OnStateChange(session.SinkStateChanged)

	if err := session.Start(ctx); err != nil {
		log.Fatalw("Failed to start session", "error", err)
	}
	for _, spec := range cfg.StartupSinks() {
		handle, err := session.AddSink(ctx, spec)
		if err != nil {
			log.Errorw("Failed to add configured sink", "kind", spec.Kind.String(), "name", spec.Name, "error", err)
			continue
		}
		log.Infow("Configured sink added", "sink", string(handle), "kind", spec.Kind.String())
	}

	if registryClient != nil {
		go registryClient.Heartbeat(ctx, session.Metrics)
	}

	health.AddSessionCheck(session, cfg.Monitoring.HealthCheckInterval, time.Second)
	health.AddSinksCheck(session, cfg.Monitoring.HealthCheckInterval, time.Second)
	go health.StartBackgroundChecks(ctx)

	// REST control
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogger(string(session.ID()), logger.NewContextLogger(log.Named("http"))),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log.Named("http")),
	)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = registry
	}
	httphandlers.NewHealthHandler(health, gatherer, time.Second).SetupRoutes(router, cfg.Monitoring.MetricsPath)
	httphandlers.NewControlHandler(session).SetupRoutes(router)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infow("Starting control API", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// WebSocket control
	var (
		commands   *controlsignal.CommandServer
		controlSrv *http.Server
	)
	if cfg.Control.Enabled {
		wsCfg := controlsignal.DefaultServerConfig()
		wsCfg.PingInterval = cfg.Control.PingInterval
		wsCfg.PongTimeout = cfg.Control.PongTimeout
		if cfg.RateLimiting.Enabled {
			wsCfg.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
			wsCfg.Burst = cfg.RateLimiting.WebSocket.Burst
			wsCfg.MaxConnections = cfg.RateLimiting.WebSocket.MaxConcurrent
			wsCfg.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
		}
		commands = controlsignal.NewCommandServer(session, wsCfg, log.Named("control"))
		publisher.Add(commands)

		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Control.Path, commands.HandleWebSocket)
		controlSrv = &http.Server{Addr: cfg.Control.Address, Handler: mux}

		go func() {
			log.Infow("Starting WebSocket control", "address", cfg.Control.Address, "path", cfg.Control.Path)
			if err := controlSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig.String())
	}

	log.Info("Shutting down talkmix...")

	report, err := session.Stop(context.Background())
	if err != nil && !errors.Is(err, domain.ErrNotRunning) {
		log.Errorw("Session stop failed", "error", err)
	}
	if report != nil {
		log.Infow("Sinks drained", "finalized", len(report.Finalized), "failed", len(report.Failed))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if controlSrv != nil {
		_ = commands.Close()
		if err := controlSrv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during control server shutdown", "error", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	cancel()
	if err := publisher.Close(); err != nil {
		log.Warnw("Error closing event publishers", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Error shutting down tracer", "error", err)
	}

	log.Info("talkmix stopped")
}
