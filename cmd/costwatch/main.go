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

	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/config"
	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/handler"
	"github.com/costwatch/costwatch-go/internal/infra/cache"
	"github.com/costwatch/costwatch-go/internal/infra/notify"
	"github.com/costwatch/costwatch-go/internal/infra/observability"
	"github.com/costwatch/costwatch-go/internal/infra/postgres"
	"github.com/costwatch/costwatch-go/internal/infra/provider"
	"github.com/costwatch/costwatch-go/internal/infra/resilience"
	"github.com/costwatch/costwatch-go/internal/infra/vault"
	"github.com/costwatch/costwatch-go/internal/port"
	"github.com/costwatch/costwatch-go/internal/service"
)

func main() {
	_ = config.LoadDotEnv(".env")

	cfg := config.Load()

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting costwatch",
		zap.Int("port", cfg.Port),
		zap.Int("backfill_days", cfg.BackfillDays),
		zap.Int("max_concurrent_syncs", cfg.MaxConcurrentSyncs),
		zap.Duration("starter_cooldown", cfg.StarterCooldown),
		zap.Duration("pro_cooldown", cfg.ProCooldown),
	)

	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "costwatch")
	if err != nil {
		logger.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	metrics := observability.NewMetrics()

	credVault, err := vault.New(cfg.VaultKey)
	if err != nil {
		logger.Fatal("failed to initialize credential vault", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := postgres.New(ctx, cfg.DatabaseURL, domain.GateConfig{
		StarterCooldown: cfg.StarterCooldown,
		ProCooldown:     cfg.ProCooldown,
		StuckAfter:      cfg.SyncStuckAfter,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	rcfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrentSyncs,
	}

	registry := provider.NewRegistry(httpClient, provider.Config{
		AWSBaseURL:    cfg.AWSCostAPIURL,
		GCPBaseURL:    cfg.GCPBillingAPIURL,
		VercelBaseURL: cfg.VercelAPIURL,
	}, credVault, rcfg, logger)

	dispatcher := notify.NewDispatcher([]port.Notifier{
		notify.NewSlackNotifier(httpClient, rcfg, logger),
		notify.NewDiscordNotifier(httpClient, rcfg, logger),
	}, metrics, logger)

	detectorCfg := domain.DetectorConfig{
		WindowDays:     cfg.AnomalyWindowDays,
		ZScore:         cfg.AnomalyZScore,
		Spike:          cfg.AnomalySpike,
		MinCents:       cfg.AnomalyMinCents,
		MinHistoryDays: domain.DefaultDetectorConfig().MinHistoryDays,
	}
	anomalySvc := service.NewAnomalyService(store, store, detectorCfg, cfg.DashboardURL, metrics, logger)

	settingsCache := cache.New[*domain.NotificationSettings](cfg.CacheTTL)
	trigger := service.NewPostSyncTrigger(anomalySvc, store, settingsCache, dispatcher, 30*time.Second, metrics, logger)

	syncSvc := service.NewSyncService(
		store, store, registry,
		resilience.NewBulkhead(cfg.MaxConcurrentSyncs),
		cfg.BackfillDays, metrics, logger,
	)
	syncSvc.SetPostSyncHook(trigger.Run)

	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.JWTAccessTTL)

	router := handler.NewRouter(syncSvc, anomalySvc, authSvc, store, store, store, metrics, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
