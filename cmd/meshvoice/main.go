package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/services"
	httphandlers "meshvoice/internal/handlers/http"
	"meshvoice/internal/infrastructure/media"
	"meshvoice/internal/infrastructure/middleware"
	"meshvoice/internal/infrastructure/mirror"
	"meshvoice/internal/infrastructure/monitoring"
	"meshvoice/internal/infrastructure/repositories"
	statusfeed "meshvoice/internal/infrastructure/signal"
	webrtcinfra "meshvoice/internal/infrastructure/webrtc"
	"meshvoice/pkg/config"
	"meshvoice/pkg/logger"
	"meshvoice/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// logger is not configured yet
		os.Stderr.WriteString("meshvoice: " + err.Error() + "\n")
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		os.Stderr.WriteString("meshvoice: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	self := domain.ParseSelfAddresses([]string{cfg.Node.IPv4, cfg.Node.IPv6})
	if self.IsZero() {
		log.Fatalw("node addresses are not valid IPs", "ipv4", cfg.Node.IPv4, "ipv6", cfg.Node.IPv6)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "meshvoice",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Repositories
	repoFactory := repositories.NewRepositoryFactory(cfg, self.Primary().String(), log)
	channels, err := repoFactory.CreateChannelRepository(ctx)
	if err != nil {
		log.Fatalw("failed to create channel repository", "error", err)
	}
	statuses := repoFactory.CreateStatusRepository()
	streams := repoFactory.CreateStreamRepository()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewPrometheusCollector(registry)

	// Media
	placeholders, err := media.NewPlaceholderProvider(log.With("component", "media"))
	if err != nil {
		log.Fatalw("failed to create placeholder media", "error", err)
	}
	placeholders.Start(ctx)

	// Relay
	var relayAuth services.RelayAuth
	if cfg.Relay.Secret != "" {
		relayAuth = services.NewRelayAuth(cfg.Relay.Secret, cfg.Relay.TokenTTL)
	}
	transport, redisRelay, err := newRelay(cfg, self, relayAuth, repoFactory.RedisClient(), log.With("component", "relay"))
	if err != nil {
		log.Fatalw("failed to create relay", "error", err)
	}

	// Sessions
	membership := services.NewMembershipService(channels, metrics, log.With("component", "membership"))

	initial := initialMirror(cfg.MirrorFile, cfg.Node.PresetChannels, log)

	manager, err := webrtcinfra.NewManager(sessionConfig(cfg), webrtcinfra.Dependencies{
		Self:       self,
		Relay:      transport,
		Media:      placeholders,
		Membership: membership,
		Statuses:   statuses,
		Streams:    streams,
		Metrics:    metrics,
		Logger:     log.With("component", "webrtc"),
	}, initial)
	if err != nil {
		log.Fatalw("failed to create connection manager", "error", err)
	}

	ingests, err := startIngests(ctx, cfg, manager, log.With("component", "ingest"))
	if err != nil {
		log.Fatalw("failed to start rtp ingest", "error", err)
	}

	if redisRelay != nil {
		go func() {
			if err := redisRelay.Subscribe(ctx, manager.HandleSignal); err != nil && ctx.Err() == nil {
				log.Errorw("redis relay subscription ended", "error", err)
			}
		}()
	}

	if cfg.MirrorFile != "" {
		watcher := mirror.NewWatcher(cfg.MirrorFile, manager.SetMirror, log.With("component", "mirror"))
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Warnw("mirror watcher stopped", "error", err)
			}
		}()
	}

	// Health
	health := monitoring.NewHealthChecker()
	health.AddChannelStoreCheck(channels, 30*time.Second, 2*time.Second)
	health.AddPlaceholderCheck(placeholders, 30*time.Second, time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}
	health.StartBackgroundChecks(ctx)

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger.Named("http"))),
		middleware.ErrorHandlerMiddleware(log),
	)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = registry
	}
	httphandlers.NewOpsHandler(health, statusfeed.NewStatusFeed(statuses, log.With("component", "status_feed")), gatherer).SetupRoutes(router)
	httphandlers.NewPeerHandler(manager, statuses, streams).SetupRoutes(router)
	httphandlers.NewChannelHandler(channels).SetupRoutes(router)
	httphandlers.NewMirrorHandler(manager).SetupRoutes(router)
	httphandlers.NewSignalHandler(manager, zapLogger.With(zap.String("component", "relay"))).SetupRoutes(router, cfg.Relay.Path,
		middleware.NewRelayRateLimitMiddleware(cfg),
		middleware.RelayAuthMiddleware(relayAuth),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting meshvoice", "address", cfg.Server.Address, "self", self, "relay", cfg.Relay.Kind)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		_ = srv.Close()
	}

	stop()
	if err := manager.Close(); err != nil {
		log.Errorw("error closing peer sessions", "error", err)
	}
	for _, i := range ingests {
		_ = i.Close()
	}
	placeholders.Stop()
	if redisRelay != nil {
		_ = redisRelay.Close()
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracing", "error", err)
	}

	log.Info("meshvoice stopped")
}
