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

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/telemetry"
)

const serviceName = "clinic-scheduling-api"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(serviceName, cfg.Env, cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api-server stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx := logger.WithContext(rootCtx)

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, version, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	if cfg.IsDev() {
		if err := db.Migrate(ctx, pgPool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	repo := appointment.NewPgRepository(pgPool)
	dir := appointment.NewPgDirectory(pgPool)
	settings := clinic.NewPgSettingsProvider(pgPool, cfg.DefaultSlotMinutes)
	schedules := schedule.NewPgStore(pgPool)
	perms := auth.DefaultRolePolicy()

	deps := []api.Dependency{{Name: "postgres", Required: true, Check: pgPool.Ping}}
	var (
		apptOpts     []appointment.Option
		resolverOpts []availability.Option
		invalidator  schedule.Invalidator
	)

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		cache := redisclient.NewSlotCache(rdb, cfg.SlotCacheTTL)
		apptOpts = append(apptOpts,
			appointment.WithLocker(redisclient.NewScopeLocker(rdb, cfg.LockTTL, redisclient.WithAcquireWait(cfg.LockWait))),
			appointment.WithSlotCache(cache),
		)
		resolverOpts = append(resolverOpts, availability.WithCache(cache))
		invalidator = cache
		deps = append(deps, api.Dependency{Name: "redis", Check: redisclient.PingCheck(rdb)})
	} else {
		logger.Warn().Msg("redis disabled; slot cache and cross-instance scope locks are off")
	}

	router := api.NewRouter(api.RouterConfig{
		Appointments: appointment.NewService(repo, dir, dir, settings, perms, apptOpts...),
		Schedules:    schedule.NewService(schedules, perms, invalidator),
		Resolver:     availability.NewResolver(schedules, repo, settings, resolverOpts...),
		Health:       api.NewHealthHandler(deps, cfg.Env, version),
		Logger:       logger,
		CORSOrigins:  cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	logger.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
