package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"tiktok-sheets/internal/config"
	"tiktok-sheets/internal/database"
	"tiktok-sheets/internal/domain"
	"tiktok-sheets/internal/fetcher"
	"tiktok-sheets/internal/google"
	"tiktok-sheets/internal/ingest"
	"tiktok-sheets/internal/logging"
	"tiktok-sheets/internal/marketplace"
	"tiktok-sheets/internal/metrics"
	"tiktok-sheets/internal/repository"
	"tiktok-sheets/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds the components every command shares.
type app struct {
	cfg         *config.Config
	logger      *zerolog.Logger
	closer      io.Closer
	db          *database.DB
	redis       *redis.Client
	marketplace *marketplace.Client
	fetcher     *fetcher.Fetcher
	lock        domain.RunLock
}

func newApp(ctx context.Context, configPath, component string) (*app, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	base, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logging.Component(base, component)

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, closer: closer, db: db}
	a.redis = initRedis(ctx, cfg, logger)
	a.lock = newRunLock(a.redis, logger)

	client := marketplace.NewClient(cfg.Marketplace, &http.Client{Timeout: cfg.Marketplace.Timeout}, logging.Component(base, "marketplace"))
	a.marketplace = client
	a.fetcher = fetcher.New(client, fetcher.OptionsFromConfig(cfg.Fetcher), logging.Component(base, "fetcher"))
	return a, nil
}

func (a *app) Close() {
	_ = repository.Close(a.redis)
	_ = a.db.Close()
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

func (a *app) sheets(ctx context.Context) (*google.SheetsService, error) {
	if a.cfg.Google.GoogleCredentialsFile == "" {
		return nil, fmt.Errorf("google.credentials_file is required")
	}
	return google.NewSheetsService(ctx, a.cfg.Google.GoogleCredentialsFile, a.cfg.Sheets, logging.Component(a.logger, "sheets"))
}

func (a *app) orchestrator(store domain.AccountStore, gateway domain.SheetGateway) *ingest.Orchestrator {
	return ingest.NewOrchestrator(store, a.marketplace, a.fetcher, gateway, ingest.OptionsFromConfig(a.cfg), logging.Component(a.logger, "ingest"))
}

func (a *app) scheduler(runner domain.Runner) (*scheduler.Scheduler, error) {
	var loc *time.Location
	if tz := a.cfg.Scheduler.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone: %w", err)
		}
		loc = l
	}
	logger := logging.Component(a.logger, "scheduler")
	engine := scheduler.NewCronEngine(loc, logger)
	return scheduler.New(a.db, runner, a.lock, engine, scheduler.OptionsFromConfig(a.cfg.Scheduler), logger), nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func newRunLock(client *redis.Client, logger *zerolog.Logger) domain.RunLock {
	memory := repository.NewMemoryRunLock()
	if client == nil {
		return memory
	}
	return repository.NewFailoverRunLock(repository.NewRedisRunLock(client), memory, logging.Component(logger, "run_lock"))
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
