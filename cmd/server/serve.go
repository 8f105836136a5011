package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lalith-99/chorus/internal/api"
	"github.com/lalith-99/chorus/internal/auth"
	"github.com/lalith-99/chorus/internal/cache"
	"github.com/lalith-99/chorus/internal/config"
	"github.com/lalith-99/chorus/internal/db"
	"github.com/lalith-99/chorus/internal/gateway"
	"github.com/lalith-99/chorus/internal/observ"
	"github.com/lalith-99/chorus/internal/queue"
	"github.com/lalith-99/chorus/internal/ratelimit"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/repository"
	"github.com/lalith-99/chorus/internal/repository/memory"
	"github.com/lalith-99/chorus/internal/repository/postgres"
	"github.com/lalith-99/chorus/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 15 * time.Second
	pruneInterval   = time.Minute
	dedupeSize      = 10_000
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			return serve(cfg, logger, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	return cmd
}

func serve(cfg *config.Config, logger *zap.Logger, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := make(map[string]api.Pinger)

	// ---------------------------------------------------------------
	// Storage
	// ---------------------------------------------------------------
	var store *repository.Store
	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		store = memory.New().Repositories()
	default:
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()
		if migrate {
			if err := database.Migrate(ctx); err != nil {
				return err
			}
		}
		store = postgres.New(database.Pool())
		checks["postgres"] = database.Health
	}

	// ---------------------------------------------------------------
	// Optional backends. Each one falls back to a single-instance
	// implementation when it is not configured or not reachable.
	// ---------------------------------------------------------------
	rdb := connectRedis(ctx, cfg.RedisURL, logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	bus := selectBus(cfg, rdb, logger)
	defer func() { _ = bus.Close() }()

	producer := selectProducer(cfg, logger)
	defer func() { _ = producer.Close() }()

	var (
		unreadCache cache.UnreadCache = cache.NoopUnreadCache{}
		presence    cache.PresenceStore
		memPresence *cache.MemoryPresence
		deduper     cache.Deduper
	)
	if rdb != nil {
		unreadCache = cache.NewRedisUnreadCache(rdb)
		presence = cache.NewRedisPresence(rdb)
		deduper = cache.NewRedisDeduper(rdb)
	} else {
		observ.Degraded(logger, "unread_cache", "redis unavailable, counts computed on every read", nil)
		observ.Degraded(logger, "presence", "redis unavailable, presence kept in process", nil)
		memPresence = cache.NewMemoryPresence(time.Now)
		presence = memPresence
		lruDeduper, err := cache.NewLRUDeduper(dedupeSize, time.Now)
		if err != nil {
			return err
		}
		deduper = lruDeduper
	}

	// ---------------------------------------------------------------
	// Realtime core
	// ---------------------------------------------------------------
	hub := realtime.NewHub(cfg.NodeID, bus, logger)
	if err := hub.Start(ctx); err != nil {
		observ.Degraded(logger, "bus", "subscribe failed", err)
	}

	eventLimiter := ratelimit.New(cfg.RateLimit.Points, cfg.RateLimit.Window, cfg.RateLimit.Block)
	messageLimiter := ratelimit.New(cfg.MessageRateLimit.Points, cfg.MessageRateLimit.Window, cfg.MessageRateLimit.Block)

	opts := service.DefaultOptions()
	opts.PresenceTTL = cfg.PresenceTTL
	opts.UnreadCacheTTL = cfg.UnreadCacheTTL
	opts.WorkspaceUnreadCacheTTL = cfg.WorkspaceUnreadCacheTTL
	opts.MaxMessageLength = cfg.MaxMessageLength
	opts.PushTopic = cfg.PushTopic
	opts.LinkPreviewTopic = cfg.LinkPreviewTopic

	svc := service.New(service.Deps{
		Store:          store,
		Hub:            hub,
		UnreadCache:    unreadCache,
		Presence:       presence,
		Deduper:        deduper,
		Producer:       producer,
		MessageLimiter: messageLimiter,
		Options:        opts,
		Logger:         logger,
	})
	gw := gateway.New(svc, eventLimiter, logger)

	router := api.NewRouter(api.RouterDeps{
		Root:           ctx,
		Authenticator:  auth.NewJWTAuthenticator(cfg.JWTSecret, store.Users),
		Store:          store,
		Services:       svc,
		Gateway:        gw,
		HealthChecks:   checks,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting chorus",
		zap.String("version", Version),
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("node_id", cfg.NodeID),
		zap.String("store", cfg.Store),
		zap.Bool("cross_instance", bus.CrossInstance()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eventLimiter.Run(gctx, pruneInterval)
		return nil
	})
	g.Go(func() error {
		messageLimiter.Run(gctx, pruneInterval)
		return nil
	})
	if memPresence != nil {
		g.Go(func() error {
			memPresence.Run(gctx, pruneInterval)
			return nil
		})
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown; they
		// end when ctx cancels their read loops.
		err := srv.Shutdown(shutdownCtx)
		svc.Jobs.Wait()
		return err
	})

	return g.Wait()
}

func connectRedis(ctx context.Context, url string, logger *zap.Logger) *redis.Client {
	if url == "" {
		observ.Degraded(logger, "redis", "REDIS_URL not set", nil)
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		observ.Degraded(logger, "redis", "invalid REDIS_URL", err)
		return nil
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		observ.Degraded(logger, "redis", "ping failed", err)
		_ = rdb.Close()
		return nil
	}
	logger.Info("redis connected", zap.String("addr", opts.Addr))
	return rdb
}

func selectBus(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) realtime.Bus {
	switch cfg.Bus {
	case "nats":
		if cfg.NatsURL == "" {
			observ.Degraded(logger, "bus", "NATS_URL not set", nil)
			return realtime.LocalBus{}
		}
		bus, err := realtime.NewNatsBus(cfg.NatsURL, "chorus-"+cfg.NodeID, logger)
		if err != nil {
			observ.Degraded(logger, "bus", "nats connect failed", err)
			return realtime.LocalBus{}
		}
		return bus
	case "redis":
		if rdb == nil {
			observ.Degraded(logger, "bus", "redis unavailable", nil)
			return realtime.LocalBus{}
		}
		return realtime.NewRedisBus(rdb, logger)
	default:
		logger.Info("local bus selected, broadcasts stay on this instance")
		return realtime.LocalBus{}
	}
}

func selectProducer(cfg *config.Config, logger *zap.Logger) queue.Producer {
	if len(cfg.KafkaBrokers) == 0 {
		observ.Degraded(logger, "queue", "KAFKA_BROKERS not set, jobs are logged only", nil)
		return queue.NewLogProducer(logger)
	}
	p, err := queue.NewKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		observ.Degraded(logger, "queue", "kafka connect failed", err)
		return queue.NewLogProducer(logger)
	}
	return p
}
