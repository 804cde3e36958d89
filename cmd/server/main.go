// Kagaz is a paper-trading engine for Indian markets. It simulates
// order execution against live quotes, tracks positions and cash per
// account, and exposes the whole thing over a REST API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kagaztrade/kagaz/internal/config"
	"github.com/kagaztrade/kagaz/internal/di"
	"github.com/kagaztrade/kagaz/internal/reliability"
	"github.com/kagaztrade/kagaz/internal/scheduler"
	"github.com/kagaztrade/kagaz/internal/server"
	"github.com/kagaztrade/kagaz/internal/version"
	"github.com/kagaztrade/kagaz/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info"})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.Pretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("version", version.Version).
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Msg("Starting kagaz engine")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Background jobs. The pending-order sweep is the heartbeat of the
	// engine; snapshots and backups run off-hours.
	sched := scheduler.New(log)

	sweep := scheduler.NewPendingSweepJob(
		container.OrderService,
		container.OrderRepo,
		container.QuoteSource,
		container.EventManager,
		log,
	)
	if err := sched.AddJob(cfg.SweepSchedule, sweep); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule pending order sweep")
	}

	snapshot := scheduler.NewSnapshotJob(container.SnapshotService, log)
	if err := sched.AddJob(cfg.SnapshotSchedule, snapshot); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule NAV snapshots")
	}

	if cfg.BackupSchedule != "" {
		backup := scheduler.NewBackupJob(container.BackupService, log)
		if err := sched.AddJob(cfg.BackupSchedule, backup); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backups")
		}
	}

	maintenance := reliability.NewMaintenanceJob(container.EngineDB, cfg.DataDir, log)
	if err := sched.AddJob("0 0 3 * * *", maintenance); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule maintenance")
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:         log,
		DB:          container.EngineDB,
		Port:        cfg.Port,
		DataDir:     cfg.DataDir,
		Orders:      container.OrderService,
		AccountRepo: container.AccountRepo,
		TradeRepo:   container.TradeRepo,
		Analytics:   container.Analytics,
		Bus:         container.EventBus,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}
