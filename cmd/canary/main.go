package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hazz-dev/canary/internal/config"
	"github.com/hazz-dev/canary/internal/logging"
	"github.com/hazz-dev/canary/internal/server"
	"github.com/hazz-dev/canary/internal/version"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "canary",
		Short:        "Uptime monitor with incident tracking and email alerts",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "canary.yml", "config file path")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// loadConfig reads the config file and builds the logger it describes.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	var selfTrigger time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the trigger endpoint and read API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(selfTrigger)
		},
	}
	cmd.Flags().DurationVar(&selfTrigger, "self-trigger", 0, "run a batch on this interval in-process (0 disables)")
	return cmd
}

func runServe(selfTrigger time.Duration) (err error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Signal context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.store.Close())
	}()
	logger.Info("config_loaded",
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("checks", len(cfg.Checks)),
		zap.Int("concurrency", cfg.Runner.Concurrency),
	)

	if cfg.Server.CronSecret == "" {
		logger.Warn("cron secret is empty, every trigger request will be rejected")
	}

	api := server.New(a.store, a.runner, server.Options{
		CronSecret:     cfg.Server.CronSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	if selfTrigger > 0 {
		go func() {
			defer close(done)
			selfTriggerLoop(ctx, a.runner, selfTrigger, logger)
		}()
	} else {
		close(done)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", zap.Error(err))
	}
	<-done

	logger.Info("shutdown complete")
	return nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one batch of due checks and print the report",
		RunE:  runBatchCmd,
	}
}

func runBatchCmd(cmd *cobra.Command, _ []string) (err error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := buildApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.store.Close())
	}()

	return executeRun(cmd.Context(), cmd.OutOrStdout(), a.runner)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the last known status of every check",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := openStore(cmd.Context(), cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()

	return executeStatus(cmd, store)
}
