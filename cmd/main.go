package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gcagle911/ADA-logger/internal/aggregate"
	"github.com/gcagle911/ADA-logger/internal/config"
	"github.com/gcagle911/ADA-logger/internal/partition"
	"github.com/gcagle911/ADA-logger/internal/server"
)

var (
	configFile     string
	dataDir        string
	symbolsStr     string
	logLevel       string
	logFormat      string
	verbose        bool
	port           int
	noServer       bool
	mirrorBackend  string
	gcsBucket      string
	mirrorDir      string
	parquetEnabled bool
	noSync         bool
	aggregateKind  string
)

var versionString = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "adalogger",
		Short: "Order book sampler with partitioned storage and chart aggregates",
		Long: `Polls exchange order books on a fixed cadence, appends every sample to
block-partitioned CSV files, and periodically derives one-minute chart series
(recent, historical and daily) with an optional mirror to object storage.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Root directory for asset data")
	rootCmd.PersistentFlags().StringVar(&symbolsStr, "symbols", "", "Comma-separated list of asset symbols")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&mirrorBackend, "mirror", "", "Mirror backend (none, gcs, dir)")
	rootCmd.PersistentFlags().StringVar(&gcsBucket, "gcs-bucket", "", "GCS bucket for the mirror")
	rootCmd.PersistentFlags().StringVar(&mirrorDir, "mirror-dir", "", "Directory for the dir mirror backend")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Sample all configured assets and serve their files",
		RunE:  runRun,
	}
	runCmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides server.addr)")
	runCmd.Flags().BoolVar(&noServer, "no-server", false, "Do not start the HTTP server")
	runCmd.Flags().BoolVar(&parquetEnabled, "parquet", false, "Write daily parquet archives")
	runCmd.Flags().BoolVar(&noSync, "no-sync", false, "Skip mirror hydration at startup")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch and append one sample per asset",
		RunE:  runFetch,
	}

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Run the aggregation cycles once",
		RunE:  runAggregate,
	}
	aggregateCmd.Flags().StringVar(&aggregateKind, "kind", "all", "Cycle to run (recent, historical, all)")
	aggregateCmd.Flags().BoolVar(&parquetEnabled, "parquet", false, "Write daily parquet archives")

	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Download partitions and aggregates missing locally from the mirror",
		RunE:  runRestore,
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove partitions older than the retention age",
		RunE:  runCleanup,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("adalogger version %s\n", versionString)
		},
	}

	rootCmd.AddCommand(runCmd, fetchCmd, aggregateCmd, restoreCmd, cleanupCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config file and applies command-line overrides
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("error loading configuration: %w", err)
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if symbolsStr != "" {
		cfg.Symbols = nil
		for _, s := range strings.Split(symbolsStr, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				cfg.Symbols = append(cfg.Symbols, s)
			}
		}
		if len(cfg.Symbols) > 0 && !slices.Contains(cfg.Symbols, cfg.DefaultAsset) {
			cfg.DefaultAsset = cfg.Symbols[0]
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if mirrorBackend != "" {
		cfg.Mirror.Backend = mirrorBackend
	}
	if gcsBucket != "" {
		cfg.Mirror.Bucket = gcsBucket
		if mirrorBackend == "" {
			cfg.Mirror.Backend = config.MirrorGCS
		}
	}
	if mirrorDir != "" {
		cfg.Mirror.Dir = mirrorDir
		if mirrorBackend == "" && gcsBucket == "" {
			cfg.Mirror.Backend = config.MirrorDir
		}
	}
	if port > 0 {
		cfg.Server.Port = port
		cfg.Server.Addr = fmt.Sprintf(":%d", port)
	}
	if parquetEnabled {
		cfg.Aggregation.ParquetEnabled = true
	}
	if noSync {
		cfg.Mirror.SyncOnStart = false
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("starting",
		"version", versionString,
		"assets", a.registry.Symbols(),
		"default_asset", cfg.DefaultAsset,
		"data_dir", cfg.DataDir,
		"mirror", cfg.Mirror.Backend)

	a.registry.Prepare(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.registry.Run(gctx)
	})
	if !noServer {
		srv := server.New(cfg.Server.Addr, a.registry, a.metrics, a.logger)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var failed int
	for _, symbol := range a.registry.Symbols() {
		t, err := a.registry.Get(symbol)
		if err != nil {
			return err
		}
		if err := t.Tick(ctx); err != nil {
			a.logger.Error("fetch failed", "asset", symbol, "err", err)
			failed++
			continue
		}
		sample, err := t.LastSample(ctx)
		if err != nil {
			continue
		}
		out, _ := json.Marshal(map[string]any{
			"asset":     symbol,
			"timestamp": sample.Timestamp,
			"price":     sample.Price,
			"bid":       sample.Bid,
			"ask":       sample.Ask,
			"spread":    sample.Spread,
			"volume":    sample.Volume,
		})
		fmt.Println(string(out))
	}
	for _, symbol := range a.registry.Symbols() {
		if t, err := a.registry.Get(symbol); err == nil {
			t.Wait()
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(a.registry.Symbols()))
	}
	return nil
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	switch aggregateKind {
	case "recent", "historical", "all":
	default:
		return fmt.Errorf("unknown aggregation kind %q", aggregateKind)
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var errs []error
	for _, symbol := range a.registry.Symbols() {
		t, err := a.registry.Get(symbol)
		if err != nil {
			return err
		}
		proc := t.Processor()
		if aggregateKind != "historical" {
			errs = append(errs, cycleError(symbol, "recent", proc.RunRecent(ctx)))
		}
		if aggregateKind != "recent" {
			errs = append(errs, cycleError(symbol, "historical", proc.RunHistorical(ctx)))
		}
	}
	return errors.Join(errs...)
}

func cycleError(symbol, kind string, err error) error {
	if err == nil || errors.Is(err, aggregate.ErrNoData) {
		return nil
	}
	return fmt.Errorf("%s %s cycle: %w", symbol, kind, err)
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Mirror.Backend == config.MirrorNone {
		return errors.New("restore needs a mirror backend")
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, symbol := range a.registry.Symbols() {
		t, err := a.registry.Get(symbol)
		if err != nil {
			return err
		}
		store := t.Store()
		rel, err := filepath.Rel(cfg.DataDir, store.Dir())
		if err != nil || strings.HasPrefix(rel, "..") {
			a.logger.Warn("asset directory is outside the data root, skipping", "asset", symbol)
			continue
		}

		keys, ok := a.mirror.List(ctx, filepath.ToSlash(rel)+"/")
		if !ok {
			return fmt.Errorf("failed to list remote files for %s", symbol)
		}
		var restored int
		for _, key := range keys {
			if _, err := partition.ParseFileName(path.Base(key)); err != nil {
				continue
			}
			local, err := a.mirror.PathFor(key)
			if err != nil || filepath.Dir(local) != store.Dir() {
				continue
			}
			if _, err := os.Stat(local); err == nil {
				continue
			}
			if a.mirror.Download(ctx, key, local) {
				restored++
			}
		}

		proc := t.Processor()
		for _, p := range []string{proc.RecentPath(), proc.HistoricalPath()} {
			if _, err := os.Stat(p); err == nil {
				continue
			}
			if a.mirror.DownloadFile(ctx, p) {
				restored++
			}
		}
		a.logger.Info("restore finished", "asset", symbol, "remote_files", len(keys), "restored", restored)
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	retention := cfg.RetentionAge()
	if retention == 0 {
		a.logger.Info("retention disabled, nothing to do")
		return nil
	}
	for _, symbol := range a.registry.Symbols() {
		t, err := a.registry.Get(symbol)
		if err != nil {
			return err
		}
		removed, err := t.Store().Sweep(retention, a.now())
		if err != nil {
			return fmt.Errorf("%s: %w", symbol, err)
		}
		a.metrics.RecordPartitionsRemoved(symbol, len(removed))
		a.logger.Info("cleanup finished", "asset", symbol, "removed", len(removed))
	}
	return nil
}
