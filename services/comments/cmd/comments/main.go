package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/corner/internal/platform/config"
	"github.com/example/corner/internal/platform/logging"
)

var configFile string

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "comments",
		Short:         "Comments and likes for Corner facts",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Plain `comments` serves, so container images need no arguments.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (environment variables win)")
	root.AddCommand(newServeCmd(), newMigrateCmd(), newReconcileCmd())
	return root
}

// bootstrap loads configuration and builds the logger shared by every
// subcommand.
func bootstrap() (config.AppConfig, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return cfg, log, nil
}
