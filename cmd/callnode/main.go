package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/services"
	httphandlers "callmesh/internal/handlers/http"
	infraconfig "callmesh/internal/infrastructure/config"
	"callmesh/internal/infrastructure/media"
	"callmesh/internal/infrastructure/middleware"
	"callmesh/internal/infrastructure/monitoring"
	"callmesh/internal/infrastructure/repositories"
	signalchan "callmesh/internal/infrastructure/signal"
	"callmesh/internal/infrastructure/webrtc"
	"callmesh/pkg/config"
	"callmesh/pkg/logger"
	"callmesh/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("could not load config from %s, using defaults: %v", *configPath, err)
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	slog := zapLogger.Sugar()

	slog.Infow("starting callmesh node",
		"user_id", cfg.Signaling.UserID,
		"address", cfg.Server.Address,
	)

	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			JaegerURL:   cfg.Tracing.JaegerURL,
			Environment: cfg.Tracing.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
			Enabled:     true,
		})
		if err != nil {
			slog.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				tp.Shutdown(ctx)
			}()
		}
	}

	provider := infraconfig.NewProvider(cfg)
	watcher, err := config.NewWatcher(*configPath, 10*time.Second, slog, provider.Apply)
	if err != nil {
		slog.Warnw("config watcher disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	factory, err := repositories.NewRepositoryFactory(cfg, slog)
	if err != nil {
		slog.Fatalw("failed to initialize repositories", "error", err)
	}
	defer factory.Close()
	recordRepo := factory.CreateCallRecordRepository()

	devices := media.NewSyntheticDevices(slog)
	qualityService := services.NewQualityService(provider)
	engine := webrtc.NewEngine(provider, devices, qualityService, slog)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Init(ctx); err != nil {
		slog.Fatalw("failed to initialize connection engine", "error", err)
	}
	defer engine.CloseAll()

	channel, err := signalchan.NewWebSocketChannel(cfg, slog)
	if err != nil {
		slog.Fatalw("failed to connect signaling channel", "error", err)
	}
	defer channel.Close()

	collector := monitoring.NewPrometheusCollector()
	channel.SetSendObserver(collector.ObserveSignalSend)
	manager := services.NewSessionManager(
		domain.UserID(cfg.Signaling.UserID),
		engine,
		channel,
		devices,
		provider,
		recordRepo,
		collector,
		slog,
	)
	go manager.RunReconciler(ctx, cfg.Calls.ReconcileInterval)

	health := monitoring.NewHealthChecker()
	health.AddCheck("call_records", func(ctx context.Context) (bool, error) {
		_, err := recordRepo.List(ctx, 1)
		return err == nil, err
	}, 30*time.Second, 5*time.Second)
	health.StartBackgroundChecks(ctx)

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(slog))
	router.Use(middleware.ErrorHandlerMiddleware(slog))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	handler := httphandlers.NewCallHandler(manager, recordRepo, health)
	handler.SetupRoutes(router)
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Infow("ops API listening", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	for _, session := range manager.ActiveCalls() {
		if err := manager.EndCall(shutdownCtx, session.ID, domain.EndReasonNormal); err != nil {
			slog.Warnw("failed to end call on shutdown", "call_id", session.ID, "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warnw("server shutdown failed", "error", err)
	}
}
