// Package main provides the CLI entry point for the agent runtime.
//
// The runtime hosts concurrent conversational sessions, each driving a
// bounded think/act loop between a model provider and a set of MCP tool
// servers.
//
// # Basic Usage
//
// Start the server:
//
//	agentrtd serve --config agentrt.yaml
//
// Print version information:
//
//	agentrtd version
//
// # Environment Variables
//
//   - AGENTRT_HOST, AGENTRT_PORT, AGENTRT_METRICS_PORT: listener overrides
//   - DATABASE_URL: Postgres session store DSN
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: model provider credentials
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/config"
	"github.com/haasonsaas/agentrt/internal/cron"
	"github.com/haasonsaas/agentrt/internal/httpapi"
	"github.com/haasonsaas/agentrt/internal/mcp"
	"github.com/haasonsaas/agentrt/internal/memory/backend/sqlitekv"
	"github.com/haasonsaas/agentrt/internal/servicemanager"
	"github.com/haasonsaas/agentrt/internal/sessions"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentrtd",
		Short:        "Autonomous agent runtime",
		Long:         "agentrtd hosts conversational sessions that drive a bounded model/tool iteration loop.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd())
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "agentrtd %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent runtime server",
		Long: `Start the agent runtime server.

The server will:
1. Load configuration from the specified file
2. Open the session store and memory backend
3. Connect auto-start MCP tool servers
4. Start the periodic memory consolidation and forgetting sweep
5. Serve the HTTP/SSE API and Prometheus metrics

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agentrt.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.Default().With("component", "serve")
	logger.Info("starting agent runtime", "version", version, "config", configPath)

	store, err := buildSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}

	memBackend, err := sqlitekv.New(sqlitekv.Config{Path: cfg.Memory.Path})
	if err != nil {
		return fmt.Errorf("open memory backend: %w", err)
	}
	defer memBackend.Close()

	forgetScheduler, err := cron.NewForgetScheduler(memBackend, cfg.Memory.ForgetSchedule, cfg.Memory.ForgetCap, cron.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build forget scheduler: %w", err)
	}

	registry := agent.NewToolRegistry()
	toolManager, err := mcp.BuildRegistry(ctx, cfg.ToolServers, registry, logger)
	if err != nil {
		logger.Error("tool server setup failed, continuing without affected servers", "error", err)
	}
	if toolManager != nil {
		defer toolManager.Stop()
	}

	svcTypes := servicemanager.DefaultTypeRegistry(servicemanager.Dependencies{MemoryBackend: memBackend})
	svcManager := servicemanager.NewManager(svcTypes)
	servicemanager.Register(registry, svcManager)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := forgetScheduler.Start(runCtx); err != nil {
		return fmt.Errorf("start forget scheduler: %w", err)
	}

	server := httpapi.New(store, httpapi.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		MetricsPort:   cfg.Server.MetricsPort,
		Logger:        logger,
		ToolRegistry:  registry,
		MemoryBackend: memBackend,
		DataDir:       cfg.DataDir,
	})
	if err := server.Start(runCtx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	logger.Info("agent runtime ready", "host", cfg.Server.Host, "port", cfg.Server.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = forgetScheduler.Stop(shutdownCtx)
	_ = svcManager.Close(shutdownCtx)
	_ = server.Stop(shutdownCtx)

	logger.Info("agent runtime stopped")
	return nil
}

func buildSessionStore(cfg *config.Config) (sessions.Store, error) {
	switch cfg.SessionStore.Driver {
	case "memory", "":
		return sessions.NewMemoryStore(), nil
	case "postgres":
		return sessions.NewPostgresStore(sessions.PostgresConfig{
			DSN:             cfg.SessionStore.DSN,
			MaxOpenConns:    cfg.SessionStore.MaxConnections,
			ConnMaxLifetime: cfg.SessionStore.ConnMaxLifetime,
		})
	default:
		return nil, fmt.Errorf("unknown session store driver: %q", cfg.SessionStore.Driver)
	}
}
