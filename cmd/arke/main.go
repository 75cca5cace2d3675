package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arke-institute/arke-archive/internal/blockstore"
	"github.com/arke-institute/arke-archive/internal/config"
	"github.com/arke-institute/arke-archive/internal/dr"
	"github.com/arke-institute/arke-archive/internal/eventchain"
	"github.com/arke-institute/arke-archive/internal/indexptr"
	"github.com/arke-institute/arke-archive/internal/lock"
	"github.com/arke-institute/arke-archive/internal/log"
	"github.com/arke-institute/arke-archive/internal/snapshotbuilder"
	"github.com/arke-institute/arke-archive/internal/tip"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfgPath string
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arke",
	Short: "Arke - content-addressed archival storage and disaster recovery",
	Long: `Arke keeps one canonical, content-addressed copy of every archived
entity's history: an append-only event chain, a periodically folded
snapshot, and a portable disaster-recovery export, all stored against
a content-addressed block store.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Arke version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file")

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initConfig() {
	loaded, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded

	log.Init(log.Config{
		Level: log.Level(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})
}

// buildCore wires the full storage stack from cfg: the block-store
// client, the tip manager, the event chain, the index pointer, the
// snapshot builder, and the DR exporter/importer. Every subcommand
// shares this wiring so behavior never drifts between serve and the
// one-shot operator commands.
type core struct {
	store    blockstore.Client
	idx      *indexptr.Pointer
	chain    *eventchain.Chain
	tip      *tip.Manager
	builder  *snapshotbuilder.Builder
	exporter *dr.Exporter
	importer *dr.Importer
}

func buildCore(cfg *config.Config) *core {
	retry := blockstore.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseBackoffMS: cfg.Retry.BaseBackoffMS,
	}
	store := blockstore.NewHTTPClient(cfg.Store.BaseURL, retry)
	idx := indexptr.New(store)
	chain := eventchain.New(store, idx)
	tm := tip.New(store, chain)

	fl := lock.New(cfg.Snapshot.LockPath, time.Duration(cfg.Snapshot.StaleLockSeconds)*time.Second)
	builder := snapshotbuilder.New(store, idx, fl, os.TempDir(), cfg.Snapshot.AllowBigBlock)

	exporter := dr.NewExporter(store, idx)
	importer := dr.NewImporter(store, idx)

	return &core{
		store:    store,
		idx:      idx,
		chain:    chain,
		tip:      tm,
		builder:  builder,
		exporter: exporter,
		importer: importer,
	}
}
