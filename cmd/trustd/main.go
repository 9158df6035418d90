// Command trustd receives webhooks and answers bearer-authenticated requests
// using the trustkit verifiers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	authgin "github.com/PaulFidika/trustkit/adapters/gin"
	"github.com/PaulFidika/trustkit/adapters/ginutil"
	core "github.com/PaulFidika/trustkit/core"
	"github.com/PaulFidika/trustkit/dispatch"
	"github.com/PaulFidika/trustkit/identity"
	migrations "github.com/PaulFidika/trustkit/migrations/postgres"
	memorylimiter "github.com/PaulFidika/trustkit/ratelimit/memory"
	redislimiter "github.com/PaulFidika/trustkit/ratelimit/redis"
	pgstore "github.com/PaulFidika/trustkit/storage/postgres"
	redisstore "github.com/PaulFidika/trustkit/storage/redis"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := core.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	opts := []core.Option{
		core.WithLogger(log),
		core.WithEventLogger(core.NewLogrusEventLogger(log)),
		core.WithMetrics(core.NewMetrics(prometheus.DefaultRegisterer)),
	}
	var limiter ginutil.RateLimiter

	if cfg.Replay.RedisURL == "" {
		mem := memorylimiter.New(nil)
		stopSweeper, err := mem.StartSweeper(memorylimiter.DefaultSweepSchedule)
		if err != nil {
			return err
		}
		defer stopSweeper()
		limiter = mem
	} else {
		ropt, err := redis.ParseURL(cfg.Replay.RedisURL)
		if err != nil {
			return fmt.Errorf("%w: REDIS_URL: %v", core.ErrMisconfigured, err)
		}
		rdb := redis.NewClient(ropt)
		defer rdb.Close()
		store := redisstore.NewReplayStore(rdb, redisstore.DefaultReplayPrefix)
		if err := store.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis not reachable at startup")
		}
		opts = append(opts, core.WithReplayStore(store))
		limiter = redislimiter.New(rdb, nil)
	}

	if cfg.Replay.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Replay.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := migrate(ctx, pool, log); err != nil {
			return err
		}

		opts = append(opts, core.WithUserResolver(identity.NewStore(pool, "", log)))
		if cfg.Replay.RedisURL == "" {
			store := pgstore.NewReplayStore(pool, "", log)
			stopPruner, err := store.StartPruner(pgstore.DefaultPruneSchedule)
			if err != nil {
				return err
			}
			defer stopPruner()
			opts = append(opts, core.WithReplayStore(store))
		}

		rc, err := dispatch.NewClient(pool, logEvent(log), 0, log)
		if err != nil {
			return fmt.Errorf("river client: %w", err)
		}
		if err := rc.Start(ctx); err != nil {
			return fmt.Errorf("river start: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = rc.Stop(sctx)
		}()
		opts = append(opts, core.WithDispatcher(dispatch.NewRiverDispatcher(rc, log)))
	}

	svc, err := core.NewService(cfg, opts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	authgin.RegisterRoutes(router, svc, limiter)

	addr := ":" + envOr("PORT", "8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("trustd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// migrate applies the bun schema migrations, then River's own tables.
func migrate(ctx context.Context, pool *pgxpool.Pool, log logrus.FieldLogger) error {
	sqldb := stdlib.OpenDBFromPool(pool)
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()
	if err := migrations.Up(ctx, db, log); err != nil {
		return err
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate: %w", err)
	}
	return nil
}

// logEvent is the default worker: it records that an accepted event reached
// the queue. Applications replace it with their own handler.
func logEvent(log logrus.FieldLogger) dispatch.Handler {
	return func(_ context.Context, args dispatch.WebhookEventArgs) error {
		log.WithFields(logrus.Fields{
			"webhook_id": args.WebhookID,
			"body_bytes": len(args.Body),
		}).Info("webhook event received")
		return nil
	}
}

func newLogger(cfg core.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if lvl, err := logrus.ParseLevel(envOr("LOG_LEVEL", "info")); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
