package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"customerportal/api/internal/config"
	"customerportal/api/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Customer portal API",
	Long: `portal serves the customer portal API: projects, calendar deadlines and
the ad review workflow, with query caches kept fresh by a realtime change feed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute runs the command tree. It is called once by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); environment variables override it")
}

// loadRuntime reads configuration and builds the process logger.
func loadRuntime(component string) (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "portal-"+component)
	if err != nil {
		return cfg, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}
