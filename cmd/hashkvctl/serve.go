package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oba-hashkv/hashkv/internal/config"
)

// serveCmd keeps the engine open and its background cleaner running until
// interrupted, printing periodic cleaner stats. There is no network
// listener here, hashkv has no wire protocol of its own; this is the
// long-running mode an embedder would use to keep an engine warm.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the engine open and its cleaner running until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info("hashkvctl serve started", "collection", collection)

		if cfgFile != "" {
			watchConfigForServe()
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-sigCh:
				log.Info("shutting down")
				return nil
			case <-ticker.C:
				s := eng.CleanerStats()
				log.Info("cleaner stats",
					"referred", s.ReferredRecords,
					"pending_batches", s.PendingBatches,
					"pending_spans", s.PendingSpans,
				)
			}
		}
	},
}

// watchConfigForServe starts an fsnotify-backed watch on cfgFile so a
// running `serve` process picks up log-level changes without a restart.
// Storage, cleaner, and index settings are fixed for the life of an open
// Engine and are only reported, not applied.
func watchConfigForServe() {
	w, err := config.NewConfigWatcher(&config.WatcherConfig{
		FilePath: cfgFile,
		OnChange: func(old, next *config.Config) {
			if next.Log.Level != old.Log.Level {
				log.SetLevel(next.Log.Level)
				log.Info("log level changed by config reload", "level", next.Log.Level)
			}
			if next.Cleaner.Interval != old.Cleaner.Interval {
				log.Warn("cleaner.interval changed but requires a restart to take effect",
					"old", old.Cleaner.Interval, "new", next.Cleaner.Interval)
			}
		},
	})
	if err != nil {
		log.Warn("config watch disabled", "error", err)
		return
	}
	if err := w.Start(); err != nil {
		log.Warn("config watch failed to start", "error", err)
	}
}
