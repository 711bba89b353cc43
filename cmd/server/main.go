// Command server runs the RCA workflow orchestration service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rca-orchestrator/backend/internal/config"
	"rca-orchestrator/backend/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "server",
		Short:         "Multi-agent root cause analysis workflow service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: config.yaml in . or ./config)")

	load := func() (*config.Config, *logging.Logger, error) {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, nil, err
		}
		logger := logging.New(logging.Options{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		return cfg, logger, nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API, MCP endpoint and workflow executor",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := load()
				if err != nil {
					return err
				}
				defer logger.Sync()
				return serve(cmd.Context(), cfg, logger)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or upgrade the learning store schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := load()
				if err != nil {
					return err
				}
				defer logger.Sync()
				return migrate(cmd.Context(), cfg, logger)
			},
		},
	)
	return root
}
