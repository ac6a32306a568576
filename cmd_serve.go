package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/treefix50/markerguard/internal/logging"
	"github.com/treefix50/markerguard/internal/server"
	"github.com/treefix50/markerguard/internal/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the marker API (default command)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Warn().Err(err).Msg("close databases")
		}
	}()

	var actions server.ActionQuerier
	if a.actions != nil {
		actions = a.actions
	}
	srv := server.New(server.Options{
		Addr:              cfg.Addr(),
		CORS:              cfg.Server.CORS,
		RateLimitRequests: cfg.Server.RateLimitRequests,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
	}, a.editor, a.purges, actions)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(supervisor.NewHTTPService(srv, cfg.Server.ShutdownTimeout))
	if a.purges.Enabled() && cfg.Backup.ScanInterval > 0 {
		tree.AddBackgroundService(supervisor.NewScanService(a.editor, a.purges, cfg.Backup.ScanInterval, cfg.Backup.ScanWorkers))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", srv.Addr()).
		Str("plex", cfg.Plex.DatabasePath).
		Bool("backups", a.purges.Enabled()).
		Str("version", Version).
		Msg("markerguard listening")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("services", len(report)).Msg("services did not stop in time")
	}
	logging.Info().Msg("markerguard stopped")
	return nil
}
