package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// statsReport is the output of the stats command.
type statsReport struct {
	Search     *models.SearchLogStats `json:"search"`
	Embeddings *models.EmbeddingStats `json:"embeddings"`
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	window := 24 * time.Hour

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show search log and embedding statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if window <= 0 {
				return fmt.Errorf("--window must be positive, got %s", window)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				search, err := a.searchLog.Stats(ctx, time.Now().Add(-window))
				if err != nil {
					return err
				}
				embeddings, err := a.store.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), statsReport{Search: search, Embeddings: embeddings})
			})
		},
	}
	cmd.Flags().DurationVar(&window, "window", window, "Search log window")
	return cmd
}
