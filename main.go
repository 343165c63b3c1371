package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "ekaya-sync",
		Short: "Semantic search over PostgreSQL schemas kept in sync in real time",
		Long: `ekaya-sync indexes the rows of registered PostgreSQL schemas as vector
embeddings, keeps the index current from change notifications, and serves
hybrid semantic search over HTTP and MCP.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to the YAML config file")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newRegisterCmd(opts),
		newActivateCmd(opts),
		newDeactivateCmd(opts),
		newSyncCmd(opts),
		newRecoverCmd(opts),
		newRealtimeCmd(opts),
		newStatsCmd(opts),
	)
	return root
}

// loadConfig reads the config file and builds the logger for it.
func (o *rootOptions) loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFile(o.configPath, Version)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Env)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// newLogger returns a development logger for local environments and a JSON
// production logger otherwise.
func newLogger(env string) (*zap.Logger, error) {
	switch env {
	case "local", "dev", "development", "test":
		return zap.NewDevelopment()
	default:
		return zap.NewProduction()
	}
}
