package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipstream/indexarr/internal/api"
	"github.com/slipstream/indexarr/internal/scheduler"
	"github.com/slipstream/indexarr/internal/websocket"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, the Torznab endpoints and the sync scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", api.Version).Str("logLevel", cfg.Logging.Level).Msg("Starting Indexarr")

	a, err := openApp(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.seed(ctx, cfg.Database.SeedFile, log.Logger); err != nil {
		log.Error().Err(err).Str("path", cfg.Database.SeedFile).Msg("Failed to apply seed file")
	}

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(log.Logger)
	a.indexers.AddListener(hub)
	defer hub.Close()

	server := api.NewServer(api.Deps{
		Config:       cfg,
		Indexers:     a.indexers,
		Status:       a.status,
		Applications: a.applications,
		Scheduler:    sched,
		Events:       hub,
		Logs:         log.Recent(),
		LogFile:      log.FilePath(),
		Logger:       log.Logger,
	})

	if err := errors.Join(
		scheduler.RegisterAppSyncTask(sched, a.applications, cfg.Sync.Interval),
		scheduler.RegisterSessionPurgeTask(sched, a.sessions, log.Logger),
		scheduler.RegisterClientPruneTask(sched, server.Limiter()),
	); err != nil {
		return err
	}
	sched.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err = <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("HTTP server shutdown")
	}
	if serr := sched.Stop(); serr != nil {
		log.Warn().Err(serr).Msg("Scheduler shutdown")
	}
	return err
}
