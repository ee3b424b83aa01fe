package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Grant-Huang/inkpath/internal/config"
	"github.com/Grant-Huang/inkpath/internal/db"
	"github.com/Grant-Huang/inkpath/internal/handler"
	"github.com/Grant-Huang/inkpath/internal/messaging"
	"github.com/Grant-Huang/inkpath/internal/metrics"
	"github.com/Grant-Huang/inkpath/internal/middleware"
	"github.com/Grant-Huang/inkpath/internal/router"
	"github.com/Grant-Huang/inkpath/internal/service"
)

var version = "dev"

var (
	cfg    *config.Config
	logger zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "inkpath",
	Short:         "Branching-narrative core",
	Long:          "inkpath coordinates turn order, vote weighting, reputation and branch activity for co-authored stories.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger = middleware.InitLogger(cfg.LogLevel, "inkpath")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(refreshCmd)

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background workers and the ops HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
			return db.NewMigrator(pool, logger).Up()
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
			return db.NewMigrator(pool, logger).Down()
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
			v, dirty, err := db.NewMigrator(pool, logger).Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
			return nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one timeout sweep and exit (for an external scheduler)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
			svc, rdb := buildServices(cmd.Context(), pool, nil)
			defer closeRedis(rdb)

			res, err := svc.Sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "penalized=%d suspended=%d memberships_removed=%d errors=%d\n",
				res.Penalized, res.Suspended, res.MembershipsRemoved, res.Errors)
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh-activity",
	Short: "Recompute and cache the activity score of every active branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
			svc, rdb := buildServices(cmd.Context(), pool, nil)
			defer closeRedis(rdb)

			n, err := svc.Activity.RefreshAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d branches\n", n)
			return nil
		})
	},
}

func withPool(ctx context.Context, fn func(*pgxpool.Pool) error) error {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool)
}

// buildServices assembles the core. events may be nil. The redis client is
// nil when caching runs without a backend; the caller closes it otherwise.
func buildServices(ctx context.Context, pool *pgxpool.Pool, events service.EventSink) (*service.Services, *redis.Client) {
	var backend service.Cache
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		var err error
		rdb, err = service.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, activity cache disabled")
			rdb = nil
		} else {
			backend = service.NewRedisCache(rdb)
		}
	}
	cache := service.NewCacheService(backend, cfg.ActivityCacheTTL, logger)
	cache.SetEnabled(cfg.CacheEnabled && backend != nil)

	svc := service.New(service.PostgresStores(pool), cache, events, service.SystemClock{}, service.Options{
		EnforceTurnOrder: cfg.EnforceTurnOrder,
		Sweep: service.SweepConfig{
			Interval:              cfg.SweepInterval,
			BotIdleTimeout:        cfg.BotIdleTimeout,
			MembershipIdleTimeout: cfg.MembershipIdleTimeout,
			Penalty:               cfg.TimeoutPenalty,
		},
	}, logger)
	return svc, rdb
}

func closeRedis(rdb *redis.Client) {
	if rdb != nil {
		rdb.Close()
	}
}

func serve(ctx context.Context) error {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.NewMigrator(pool, logger).Up(); err != nil {
		return err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer, pool); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.RabbitMQURL != "" {
		pub, err := messaging.Dial(cfg.RabbitMQURL, cfg.EventsExchange, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable, notifications disabled")
		} else {
			defer pub.Close()
			notifier = pub
		}
	}
	dispatcher := service.NewDispatcher(notifier, 1024, logger)

	svc, rdb := buildServices(ctx, pool, dispatcher)
	defer closeRedis(rdb)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go dispatcher.Run(workerCtx)
	go service.NewActivityWorker(pool, svc.Activity, cfg.ActivityBatchWindow, logger).Start(workerCtx)
	go svc.Sweeper.Start(workerCtx)

	app := fiber.New(fiber.Config{
		AppName:      "inkpath",
		ServerHeader: "inkpath",
		ErrorHandler: middleware.ErrorHandler,
	})
	health := handler.NewHealthHandler(pool, rdb, svc.Cache.Enabled, version)
	router.Setup(app, health, prometheus.DefaultGatherer)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Environment).Msg("inkpath starting")
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		cancelWorkers()
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	svc.Sweeper.Stop()
	cancelWorkers()
	dispatcher.Wait()
	return nil
}
