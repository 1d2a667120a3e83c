package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"customerportal/api/internal/app"
	"customerportal/api/internal/config"
	"customerportal/api/internal/invalidate"
	"customerportal/api/internal/querycache"
	"customerportal/api/internal/realtime"
	"customerportal/api/internal/session"
	"customerportal/api/internal/storage"
	"customerportal/api/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the realtime hub and cache invalidators",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime("api")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Addr = addr
		}
		skip, _ := cmd.Flags().GetBool("skip-migrations")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, !skip, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (overrides API_ADDR)")
	serveCmd.Flags().Bool("skip-migrations", false, "do not apply migrations on start")
}

func serve(ctx context.Context, cfg config.Config, migrate bool, logger *zap.Logger) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if migrate {
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("versions", applied))
		}
	}
	dataStore := store.NewPostgresStore(db)

	objects, err := storage.NewMinio(storage.Options{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MediaPublicURL,
	})
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("object storage: %w", err)
	}

	var redisClient *redis.Client
	if cfg.CacheBackend == config.CacheRedis || cfg.RealtimeBackend == config.RealtimeRedis {
		redisClient, err = openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	var cache querycache.Cache
	switch cfg.CacheBackend {
	case config.CacheRedis:
		logger.Info("using redis query cache")
		cache = querycache.NewRedis(redisClient, cfg.CacheTTL)
	case config.CacheMemory, "":
		cache = querycache.NewMemory(cfg.CacheTTL)
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}

	g, gctx := errgroup.WithContext(ctx)

	var (
		feed realtime.Feed
		echo realtime.Publisher
	)
	switch cfg.RealtimeBackend {
	case config.RealtimePostgres:
		pg := realtime.NewPGFeed(cfg.DatabaseURL, cfg.RealtimeChannel, cfg.RealtimeRetry, logger)
		feed = pg
		g.Go(func() error { return quiet(pg.Run(gctx)) })
	case config.RealtimeRedis:
		rf := realtime.NewRedisFeed(redisClient, logger)
		feed = rf
		g.Go(func() error { return quiet(rf.Run(gctx, nil)) })
	case config.RealtimeMemory:
		// No external feed: this process's own writes are the only changes
		// it will see.
		mem := realtime.NewMemoryFeed()
		feed = mem
		echo = mem
		logger.Warn("realtime feed disabled; caches only see local writes")
	default:
		return fmt.Errorf("unknown realtime backend %q", cfg.RealtimeBackend)
	}

	hub := realtime.NewHub(feed, logger)
	defer hub.Close()
	invalidators, err := invalidate.NewGlobal(invalidate.Deps{Hub: hub, Cache: cache, Logger: logger.Named("invalidate")})
	if err != nil {
		return fmt.Errorf("start invalidators: %w", err)
	}
	defer invalidators.Close()

	var revocations session.Revocations = session.PostgresRevocations{Store: dataStore}
	if redisClient != nil {
		revocations = session.NewRedisStoreWithClient(redisClient)
	}

	service := app.New(cfg, app.Deps{
		Store:       dataStore,
		Objects:     objects,
		Cache:       cache,
		Revocations: revocations,
		Echo:        echo,
		Logger:      logger,
	})
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("portal API listening",
			zap.String("addr", cfg.Addr),
			zap.String("realtime", cfg.RealtimeBackend),
			zap.String("cache", cfg.CacheBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func openRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// quiet drops the cancellation error a background loop returns on shutdown.
func quiet(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
