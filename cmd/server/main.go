// Package main provides the API server entry point for the referral ledger service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/referral-ledger/internal/api"
	"github.com/referral-ledger/internal/config"
	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/notify"
	"github.com/referral-ledger/internal/remotesync"
	"github.com/referral-ledger/internal/service"
	"github.com/referral-ledger/internal/storage"
	"github.com/referral-ledger/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := service.EngineConfigFromConfig(cfg.Ledger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid ledger configuration")
	}

	// Local ledger
	store := ledger.NewStore(ledger.NewFilePersister(cfg.Ledger.SnapshotPath), logger)
	if err := store.Load(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to load ledger snapshot")
	}

	// Remote store
	var gateway *remotesync.Gateway
	if cfg.Database.Postgres.Enabled {
		postgres, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer postgres.Close()

		gateway = remotesync.NewGateway(storage.NewRemoteRepository(postgres), store, cfg.Sync, logger)
		if cfg.Sync.PullOnStart {
			if err := gateway.Pull(ctx); err != nil {
				logger.WithError(err).Warn("Remote pull failed, continuing with local ledger")
			}
		}
		store.AddListener(gateway)
		gateway.Start(ctx)
		defer gateway.Stop()
	}

	// Notification delivery
	var deps notify.Dependencies
	deps.Logger = logger
	if cfg.Notifications.Sink == "redis" {
		redisDB, err := storage.NewRedisDB(ctx, &cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisDB.Close()
		deps.Redis = redisDB.Client()
	}
	sink, closeSink, err := notify.NewSink(cfg.Notifications, deps)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create notification sink")
	}
	defer closeSink()

	dispatcher := notify.NewDispatcher(sink, 0, logger)
	store.AddListener(dispatcher)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// Audit archive
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()

		archive := storage.NewAuditArchive(clickhouse, logger)
		store.AddListener(archive)
		archive.Start(ctx)
		defer archive.Stop()
	}

	// Engines
	referral := service.NewReferralService(store, engine, logger)
	settlement := service.NewSettlementService(store, engine, referral, logger)
	accrual := service.NewAccrualService(store, engine, logger)
	users := service.NewUserService(store, engine, logger)

	admin, err := users.SeedAdmin(ctx, cfg.Ledger.AdminEmail, cfg.Ledger.AdminPassword, cfg.Ledger.AdminName)
	if err != nil {
		logger.WithError(err).Fatal("Failed to seed administrator")
	}
	logger.WithField("adminId", admin.ID).Info("Administrator account ready")

	accrualWorker, err := worker.NewAccrualWorker(accrual, cfg.Ledger.AccrualInterval, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create accrual worker")
	}
	if err := accrualWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start accrual worker")
	}

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, api.Services{
		Users:      users,
		Settlement: settlement,
		Referral:   referral,
		Accrual:    accrual,
	}, logger)
	server.AddHealthCheck("accrualWorker", func() interface{} { return accrualWorker.Stats() })
	if gateway != nil {
		server.AddHealthCheck("remoteSync", func() interface{} { return gateway.BreakerStates() })
	}

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := accrualWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Accrual worker did not stop cleanly")
	}

	logger.Info("Server exited")
}
