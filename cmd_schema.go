package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/services"
)

// withApp loads the config, wires the services and runs fn.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := o.loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	return fn(cmd.Context(), a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readMetadataFile reads schema metadata from a YAML (or JSON) file.
func readMetadataFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}
	var metadata map[string]any
	if err := yaml.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata file %s: %w", path, err)
	}
	return metadata, nil
}

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var (
		req          models.RegisterSchemaRequest
		analyze      bool
		activate     bool
		metadataFile string
	)

	cmd := &cobra.Command{
		Use:   "register <schema>",
		Short: "Register a schema for semantic search and analyze its tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.SchemaName = args[0]
			if metadataFile != "" {
				metadata, err := readMetadataFile(metadataFile)
				if err != nil {
					return err
				}
				req.Metadata = metadata
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				schema, err := a.registry.Register(ctx, &req)
				if err != nil {
					return err
				}
				if activate {
					if err := a.registry.Activate(ctx, schema.SchemaName); err != nil {
						return err
					}
					schema.IsActive = true
				}
				if !analyze {
					return printJSON(cmd.OutOrStdout(), schema)
				}

				analysis, err := a.analyzer.Analyze(ctx, schema.SchemaName)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), analysis)
			})
		},
	}
	cmd.Flags().StringVar(&req.DisplayName, "display-name", "", "Human-readable schema name")
	cmd.Flags().StringVar(&req.Description, "description", "", "Schema description")
	cmd.Flags().StringVar(&req.BusinessDomain, "domain", "", "Business domain; detected from table names when empty")
	cmd.Flags().BoolVar(&req.Unique, "unique", false, "Fail if the schema is already registered")
	cmd.Flags().BoolVar(&analyze, "analyze", true, "Classify tables and register them for sync")
	cmd.Flags().BoolVar(&activate, "activate", false, "Make the schema searchable immediately")
	cmd.Flags().StringVar(&metadataFile, "metadata-file", "", "YAML file with schema metadata")
	return cmd
}

func newActivateCmd(opts *rootOptions) *cobra.Command {
	return newActivationCmd(opts, true)
}

func newDeactivateCmd(opts *rootOptions) *cobra.Command {
	return newActivationCmd(opts, false)
}

// newActivationCmd builds activate and deactivate. Searches of an inactive
// schema return no hits; its embeddings and sync state are kept.
func newActivationCmd(opts *rootOptions, active bool) *cobra.Command {
	use, short := "deactivate <schema>", "Stop serving searches of a registered schema"
	if active {
		use, short = "activate <schema>", "Serve searches of a registered schema"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaName := args[0]
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				toggle := a.registry.Deactivate
				if active {
					toggle = a.registry.Activate
				}
				if err := toggle(ctx, schemaName); err != nil {
					return err
				}
				schema, err := a.registry.Get(ctx, schemaName)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), schema)
			})
		},
	}
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var (
		table    string
		syncOpts services.SyncOptions
	)

	cmd := &cobra.Command{
		Use:   "sync <schema>",
		Short: "Index the rows of a registered schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaName := args[0]
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if table != "" {
					res, err := a.ingest.SyncTable(ctx, schemaName, table, syncOpts)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), res)
				}

				results, err := a.ingest.SyncSchema(ctx, schemaName, syncOpts)
				if results == nil {
					results = []*models.SyncResult{}
				}
				if printErr := printJSON(cmd.OutOrStdout(), results); printErr != nil {
					return printErr
				}
				if err != nil {
					a.logger.Error("Some tables failed to sync",
						zap.String("schema", schemaName),
						zap.Error(err))
					return fmt.Errorf("sync of %s incomplete: %w", schemaName, err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&table, "table", "t", "", "Sync only this table")
	cmd.Flags().BoolVar(&syncOpts.Rebuild, "rebuild", false, "Delete existing embeddings before re-indexing")
	return cmd
}

func newRecoverCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Mark syncs left running by a crashed process as failed",
		Long: `Marks every table that has been running for longer than --older-than as
failed so it can be synced again. Use --older-than 0 to release every running
table; only do that when no sync is in progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				recovered, err := a.tracker.RecoverStale(ctx, olderThan)
				if err != nil {
					return err
				}
				if recovered == nil {
					recovered = []*models.SyncStatus{}
				}
				return printJSON(cmd.OutOrStdout(), recovered)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "Only release syncs started longer ago than this")
	return cmd
}

func newRealtimeCmd(opts *rootOptions) *cobra.Command {
	var disable bool

	cmd := &cobra.Command{
		Use:   "realtime <schema> [table...]",
		Short: "Enable or disable realtime reindexing of tables",
		Long: `Installs (or with --disable, drops) the change trigger on the given tables.
Without table arguments every tracked table of the schema is changed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaName, tables := args[0], args[1:]
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if len(tables) == 0 {
					statuses, err := a.tracker.ListBySchema(ctx, schemaName)
					if err != nil {
						return err
					}
					for _, st := range statuses {
						tables = append(tables, st.TableName)
					}
				}

				updated := make([]*models.SyncStatus, 0, len(tables))
				for _, t := range tables {
					st, err := a.tracker.SetRealtime(ctx, schemaName, t, !disable)
					if err != nil {
						return err
					}
					updated = append(updated, st)
				}
				return printJSON(cmd.OutOrStdout(), updated)
			})
		},
	}
	cmd.Flags().BoolVar(&disable, "disable", false, "Drop the change triggers instead of installing them")
	return cmd
}
