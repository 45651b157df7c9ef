package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/canopywatch/alert-engine/internal/adapter/httpserver"
	"github.com/canopywatch/alert-engine/internal/domain"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the maintenance loop: periodic freshness checks and regeneration",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		srv := httpserver.NewServer(eng.cfg.Server.Address, eng.store, eng.logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				eng.logger.Error("http server error", "error", err)
			}
		}()

		go maintenanceLoop(ctx, eng)

		<-ctx.Done()
		eng.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), eng.cfg.Server.GracefulTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			eng.logger.Error("http server shutdown error", "error", err)
		}

		eng.logger.Info("shutdown complete")
		return nil
	},
}

// maintenanceLoop checks freshness on the configured interval and
// regenerates whatever the check found expired. An immediate first cycle
// runs on startup so a restart never waits a full interval.
func maintenanceLoop(ctx context.Context, eng *engine) {
	interval := eng.cfg.Serve.CheckInterval
	ticker := domain.Clock().NewTicker(interval)
	defer ticker.Stop()

	cycle := func() {
		report, err := eng.orchestrator.CheckAll(ctx, nil)
		if err != nil {
			eng.logger.Error("check cycle failed", "error", err)
			return
		}
		eng.logger.Info("check cycle complete",
			"artifacts", report.Artifacts, "stale", report.Stale, "expired_refs", report.Expired)

		if report.Expired == 0 {
			return
		}
		batch, err := eng.orchestrator.RegenerateAll(ctx, nil, false)
		if err != nil {
			eng.logger.Error("regeneration sweep failed", "error", err)
			return
		}
		eng.logger.Info("regeneration sweep complete",
			"regenerated", len(batch.Regenerated), "skipped", len(batch.Skipped), "failed", len(batch.Failed))
	}

	cycle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			cycle()
		}
	}
}
