package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"customerportal/api/internal/invalidate"
	"customerportal/api/internal/realtime"
)

// relayCmd forwards the Postgres change feed onto Redis so API replicas can
// run with REALTIME_BACKEND=redis and share one LISTEN connection.
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward Postgres change notifications to Redis pub/sub",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime("relay")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		feed := realtime.NewPGFeed(cfg.DatabaseURL, cfg.RealtimeChannel, cfg.RealtimeRetry, logger)
		publisher := realtime.NewRedisPublisher(client)
		tables := invalidate.Tables()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return quiet(feed.Run(gctx)) })
		g.Go(func() error {
			if err := quiet(realtime.Relay(gctx, feed, tables, publisher, logger.Named("relay"))); err != nil {
				return fmt.Errorf("relay: %w", err)
			}
			return nil
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}
