package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/logger"
	internalRedis "dispatch/internal/redis"
	"dispatch/internal/repository/memory"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		ServiceName: cfg.NewRelic.AppName,
		Level:       logger.ParseLevel(cfg.Log.Level),
		Format:      cfg.Log.Format,
		WarnStack:   cfg.Log.WarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn(log.WithField(ctx, "error", envErr.Error()), "failed to load .env")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server exited with error", err)
		os.Exit(1)
	}
	log.Info(ctx, "server exited")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	// New Relic comes first so the database and Redis clients are instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Error(ctx, "failed to initialize New Relic", err)
		} else {
			log.Info(log.WithField(ctx, "app", cfg.NewRelic.AppName), "New Relic enabled")
			defer nrApp.Shutdown(5 * time.Second)
		}
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	redisClient, err := app.NewRedisClient(startCtx, cfg.Redis, nrApp)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	log.Info(log.WithField(ctx, "addr", cfg.Redis.Addr), "connected to redis")

	var stores app.Stores
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		directory := memory.NewDirectory()
		if cfg.Storage.SeedFile != "" {
			if err := app.LoadSeed(cfg.Storage.SeedFile, directory); err != nil {
				return err
			}
		}
		stores = app.NewMemoryStores(directory)
		log.Warn(ctx, "using in-memory storage; requests and assignments are lost on restart")
	default:
		db, err := app.NewDatabase(startCtx, cfg.Database, nrApp)
		if err != nil {
			return err
		}
		defer func(db *sql.DB) { _ = db.Close() }(db)
		log.Info(log.WithField(ctx, "host", cfg.Database.Host), "connected to postgres")

		if cfg.Database.AutoMigrate {
			if err := app.Migrate(startCtx, db, log); err != nil {
				return err
			}
		}
		stores = app.NewPostgresStores(db, redisClient)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := app.Options{
		Stores:      stores,
		Locations:   internalRedis.NewLocationStore(redisClient),
		Locks:       internalRedis.NewLockStore(redisClient),
		RedisClient: redisClient,
		NewRelicApp: nrApp,
		Registry:    registry,
		Logger:      log,
		Realtime:    cfg.Realtime,
		Audit:       cfg.Audit,
	}
	var eventBus *internalRedis.EventBus
	if cfg.Realtime.RelayEnabled {
		eventBus = internalRedis.NewEventBus(redisClient, log)
		opts.EventBus = eventBus
	}

	application, err := app.New(opts)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      application.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(log.WithField(gctx, "port", cfg.Server.Port), "starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info(gctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		application.Hub.Close()
		return server.Shutdown(shutdownCtx)
	})

	if eventBus != nil {
		g.Go(func() error {
			return eventBus.Relay(gctx, application.Hub)
		})
	}

	if cfg.Audit.Enabled {
		g.Go(func() error {
			return application.Auditor.Run(gctx, cfg.Audit.Interval)
		})
	}

	return g.Wait()
}
