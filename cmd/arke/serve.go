package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arke-institute/arke-archive/internal/api"
	"github.com/arke-institute/arke-archive/internal/log"
	"github.com/arke-institute/arke-archive/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the archive's HTTP API, snapshot scheduler, and export scheduler",
	Long: `serve starts the long-running arke process: the C8 HTTP API bound
to the configured listen address, plus the background scheduler that
periodically folds the event chain into a snapshot and exports it for
disaster recovery (spec §4.5, §4.6, §4.8).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.WithComponent("serve")
		c := buildCore(cfg)

		sched := scheduler.New(
			c.builder,
			c.exporter,
			time.Duration(cfg.Snapshot.IntervalMinutes)*time.Minute,
			time.Duration(cfg.Export.IntervalHours)*time.Hour,
			cfg.Export.OutputDir,
		)
		sched.Start()
		logger.Info().
			Dur("snapshot_interval", sched.SnapshotInterval).
			Dur("export_interval", sched.ExportInterval).
			Msg("scheduler started")

		srv := api.NewServer(c.store, c.tip, c.chain, c.idx, c.builder, c.exporter, sched)

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(cfg.HTTP.ListenAddr, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout); err != nil {
				errCh <- fmt.Errorf("api server error: %w", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			sched.Stop()
			return err
		}

		sched.Stop()
		logger.Info().Msg("shutdown complete")
		return nil
	},
}
