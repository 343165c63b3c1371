package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/handlers"
	"github.com/ekaya-inc/ekaya-sync/pkg/mcp"
	"github.com/ekaya-inc/ekaya-sync/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-sync/pkg/middleware"
	"github.com/ekaya-inc/ekaya-sync/pkg/notifier"
)

const (
	retentionInterval = time.Hour
	shutdownTimeout   = 15 * time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/MCP server and the realtime reindexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("Configuration loaded",
				zap.String("env", cfg.Env),
				zap.String("version", cfg.Version),
				zap.String("database", cfg.Database.Host+"/"+cfg.Database.Database),
				zap.String("vector_backend", cfg.Vector.Backend),
				zap.Int("dimension", cfg.Vector.Dimension),
				zap.String("embedding_provider", cfg.Embedding.Provider),
				zap.Bool("redis_relay", cfg.Redis.Host != ""),
				zap.Bool("mcp_enabled", cfg.MCP.Enabled))

			a, err := newApp(ctx, cfg, logger, appOptions{Migrate: !skipMigrations, Redis: true})
			if err != nil {
				return err
			}
			defer a.close()

			if cfg.Sync.StaleAfter > 0 {
				if _, err := a.tracker.RecoverStale(ctx, cfg.Sync.StaleAfter); err != nil {
					logger.Warn("Stale sync recovery failed", zap.Error(err))
				}
			}

			return a.serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on startup")
	return cmd
}

// serve runs the change listener, the retention scheduler and the HTTP
// server until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	handler := notifier.Handler(a.reindex.Handle)
	if a.redis != nil {
		relay := notifier.NewRedisRelay(a.redis, a.cfg.Notifier.RedisStream, a.logger)
		handler = notifier.Fanout(a.reindex.Handle, relay.Handle)
	}
	listener := notifier.NewListener(notifier.DedicatedConnector(a.db), a.changeLog, handler, notifier.ListenerConfig{
		Channel:              a.cfg.Notifier.Channel,
		Name:                 a.cfg.Notifier.ListenerName,
		Lookback:             a.cfg.Notifier.ReconcileLookback,
		ReconnectDelay:       a.cfg.Notifier.ReconnectDelay,
		MaxReconnectAttempts: a.cfg.Notifier.MaxReconnectAttempts,
		OnHandlerFailure:     a.reindex.RecordFailure,
	}, a.logger)

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr(),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Realtime indexing stops when the database is unreachable for good;
		// search keeps serving the existing index.
		if err := listener.Run(gctx); err != nil {
			if errors.Is(err, apperrors.ErrTransportUnavailable) {
				a.logger.Error("Realtime indexing stopped", zap.Error(err))
				return nil
			}
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.retention.RunScheduler(gctx, retentionInterval)
		return nil
	})

	g.Go(func() error {
		a.logger.Info("Starting ekaya-sync",
			zap.String("addr", srv.Addr),
			zap.String("version", a.cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		a.logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// routes builds the HTTP handler tree.
func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	handlers.NewHealthHandler(a.cfg, a.db, a.store, a.logger).RegisterRoutes(mux)
	handlers.NewSearchHandler(a.search, a.searchLog, a.logger).RegisterRoutes(mux)
	handlers.NewSchemaHandler(a.registry, a.tracker, a.patterns, a.logger).RegisterRoutes(mux)

	if a.cfg.MCP.Enabled {
		mcpServer := mcp.NewServer("ekaya-sync", a.cfg.Version, mcp.NewToolAuditor(a.logger), a.logger)
		tools.RegisterTools(mcpServer.MCP(), &tools.ToolDeps{
			Registry: a.registry,
			Tracker:  a.tracker,
			Search:   a.search,
			Patterns: a.patterns,
			Stats:    a.store,
			Version:  a.cfg.Version,
			Logger:   a.logger,
		})
		mux.Handle("/mcp", middleware.MCPRequestLogger(a.logger)(mcpServer.NewStreamableHTTPServer()))
	}

	return middleware.RequestLogger(a.logger)(mux)
}
