package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arturoeanton/sakenny/internal/adapter/store"
	"github.com/arturoeanton/sakenny/internal/app"
	"github.com/arturoeanton/sakenny/internal/mcp"
	"github.com/arturoeanton/sakenny/pkg/config"
	"github.com/arturoeanton/sakenny/pkg/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "sakenny",
		Short:         "Property listing API with semantic similarity search",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, err := cmd.Flags().GetString("env-file")
			if err != nil {
				return err
			}
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			cfg = config.Load()
			logger.Setup(cfg.LogLevel, cfg.LogJSON)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report(runServe(cmd.Context(), cfg))
		},
	}
	root.PersistentFlags().String("env-file", ".env", "Environment file to load before reading configuration")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report(runServe(cmd.Context(), cfg))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report(runMigrate(cmd.Context(), cfg))
		},
	})

	reindex := &cobra.Command{
		Use:   "reindex",
		Short: "Embed properties that have no vector for the active model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			batch, err := cmd.Flags().GetInt("batch-size")
			if err != nil {
				return err
			}
			return report(runReindex(cmd.Context(), cfg, batch))
		},
	}
	reindex.Flags().Int("batch-size", 100, "Rows fetched per batch")
	root.AddCommand(reindex)

	return root
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("🚀 Starting "+cfg.AppName,
		"port", cfg.Port,
		"store", cfg.StoreBackend,
		"embedding_provider", cfg.EmbeddingProvider,
		"mcp_enabled", cfg.MCPEnabled,
	)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	httpApp := a.HTTP()

	// ── MCP Server (separate port) ───────────────────────────────────────
	var mcpServer *mcp.Server
	if cfg.MCPEnabled {
		mcpServer = mcp.NewServer(a.Service, cfg.AppName, cfg.MCPPort)
		go func() {
			if err := mcpServer.Start(); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("🌐 Fiber listening", "port", cfg.Port)
		errCh <- httpApp.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if mcpServer != nil {
		if err := mcpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("MCP shutdown failed", "error", err)
		}
	}
	return httpApp.ShutdownWithContext(shutdownCtx)
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreBackend != config.StorePostgres {
		slog.Info("nothing to migrate", "store", cfg.StoreBackend)
		return nil
	}
	pg, err := store.NewPostgresStore(cfg.DatabaseURL, cfg.EmbeddingDimension)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("migrations applied")
	return nil
}

func runReindex(ctx context.Context, cfg *config.Config, batchSize int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	n, err := a.Service.Reindex(ctx, batchSize)
	if err != nil {
		return err
	}
	slog.Info("reindex complete", "embedded", n, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// report logs a command failure once, flagging misconfiguration explicitly.
func report(err error) error {
	if err == nil {
		return nil
	}
	if app.IsConfigError(err) {
		slog.Error("invalid configuration", "error", err)
	} else {
		slog.Error("command failed", "error", err)
	}
	return err
}
