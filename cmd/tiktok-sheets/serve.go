package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tiktok-sheets/internal/api"
	"tiktok-sheets/internal/database"
	"tiktok-sheets/internal/events"
	"tiktok-sheets/internal/logging"
	"tiktok-sheets/internal/service"
	"tiktok-sheets/internal/worker"

	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, run-queue worker and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath, "serve")
	if err != nil {
		return err
	}
	defer a.Close()

	gateway, err := a.sheets(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("google sheets init failed")
		return err
	}

	orchestrator := a.orchestrator(a.db, gateway)
	sched, err := a.scheduler(orchestrator)
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	sched.Subscribe(bus)

	runWorker := worker.NewRunWorker(a.db, orchestrator, a.lock, a.redis, worker.OptionsFromConfig(a.cfg), logging.Component(a.logger, "run_worker"))
	accounts := service.NewAccountService(a.db, a.marketplace, bus, runWorker, logging.Component(a.logger, "accounts"))

	startMetrics(ctx, a.cfg, a.logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sched.Start(ctx); err != nil {
			a.logger.Error().Err(err).Msg("scheduler stopped")
		}
	}()
	go func() {
		defer wg.Done()
		runWorker.Start(ctx)
	}()

	if a.cfg.Database.Backup.Enabled {
		backups := database.NewBackupService(a.db, a.cfg.Database.Backup, logging.Component(a.logger, "backup"))
		go backups.Start(ctx)
	}

	var httpServer *api.HTTPServer
	if a.cfg.API.Enabled {
		httpServer = api.NewHTTPServer(a.cfg.API, accounts, sched, a.logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				a.logger.Error().Err(err).Msg("http server stopped")
				stop()
			}
		}()
	}

	a.logger.Info().Bool("api", a.cfg.API.Enabled).Bool("redis", a.redis != nil).Msg("service started")
	<-ctx.Done()
	a.logger.Info().Msg("shutdown signal received")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	wg.Wait()

	a.logger.Info().Msg("service stopped")
	return nil
}
