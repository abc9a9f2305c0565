package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/erazemk/orozarna/internal/api"
	"github.com/erazemk/orozarna/internal/audit"
	"github.com/erazemk/orozarna/internal/auth"
	"github.com/erazemk/orozarna/internal/authz"
	"github.com/erazemk/orozarna/internal/config"
	"github.com/erazemk/orozarna/internal/custody"
	"github.com/erazemk/orozarna/internal/db"
	"github.com/erazemk/orozarna/internal/keylock"
	"github.com/erazemk/orozarna/internal/lifecycle"
	"github.com/erazemk/orozarna/internal/metrics"
	"github.com/erazemk/orozarna/internal/origin"
	"github.com/erazemk/orozarna/internal/registry"
	"github.com/erazemk/orozarna/internal/serial"
	"github.com/erazemk/orozarna/internal/store"
)

func serveCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd.Context())
			if listen != "" {
				cfg.Listen = listen
			}

			logger, closeLog, err := setupLogger(cfg.LogFile, globalFlags.debug)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, cfg, logger); err != nil {
				logger.Error("server error", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&listen, "addr", "a", "", "listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	database, err := openPrimary(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	auditDB, err := db.Open(cfg.AuditDatabase)
	if err != nil {
		return fmt.Errorf("opening audit database: %w", err)
	}
	defer auditDB.Close()
	if err := db.EnsureAuditSchema(auditDB); err != nil {
		return fmt.Errorf("ensuring audit schema: %w", err)
	}

	jwtSecret, err := store.JWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("loading jwt secret: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()
	locker = keylock.Instrument(locker, m.ObserveLockWait)

	recorder := audit.NewRecorder(audit.NewSQLStore(auditDB), audit.Options{
		Buffer:  cfg.AuditBuffer,
		Outbox:  database,
		Logger:  logger,
		Metrics: m,
	})
	defer recorder.Close()

	allocator := serial.NewAllocator(cfg.Serials, cfg.SerialMaxRetries, locker, cfg.LockWait, m)
	router := api.NewRouter(api.Deps{
		DB:       database,
		Accounts: auth.NewAccounts(database, jwtSecret, recorder, logger),
		Gate:     authz.NewGate(cfg, recorder, m),
		Ledger: custody.NewLedger(database, locker, custody.Options{
			LockWait: cfg.LockWait,
			Notifier: recorder,
			Metrics:  m,
			Logger:   logger,
		}),
		Registry:       registry.New(database, allocator, recorder, logger),
		Lifecycle:      lifecycle.NewManager(database, recorder, logger),
		Audit:          recorder,
		Resolver:       cfg.Resolver(),
		Classifier:     origin.NewClassifier(cfg.OriginConfig()),
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsServer := &http.Server{
		Addr:              cfg.MetricsListen,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if cfg.MetricsListen != "" {
		g.Go(func() error {
			logger.Info("metrics server started", "addr", cfg.MetricsListen)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server forced to shutdown", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped, flushing audit trail and closing databases")
	return err
}

// openPrimary opens the primary database and creates the admin account on
// first run.
func openPrimary(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	database, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.EnsureSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("ensuring database schema: %w", err)
	}

	password, err := auth.NewAccounts(database, "", nil, logger).EnsureAdmin(ctx, cfg.AdminUser)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("creating admin user: %w", err)
	}
	if password != "" {
		printInitResult(cfg.Database, cfg.AdminUser, password)
		fmt.Println()
	}

	logger.Info("database ready", "path", cfg.Database, "audit", cfg.AuditDatabase)
	return database, nil
}

// newLocker returns the Redis locker when redisUrl is set so several
// instances share item locks, and an in-process locker otherwise.
func newLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (keylock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return keylock.NewMemory(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}

	logger.Info("using redis locks", "addr", opts.Addr)
	return keylock.NewRedis(client, cfg.LockTTL, logger), func() { client.Close() }, nil
}
