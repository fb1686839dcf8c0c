package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gcagle911/ADA-logger/internal/aggregate"
	"github.com/gcagle911/ADA-logger/internal/cache"
	"github.com/gcagle911/ADA-logger/internal/config"
	"github.com/gcagle911/ADA-logger/internal/feed"
	"github.com/gcagle911/ADA-logger/internal/logging"
	"github.com/gcagle911/ADA-logger/internal/mirror"
	"github.com/gcagle911/ADA-logger/internal/observability"
	"github.com/gcagle911/ADA-logger/internal/partition"
	"github.com/gcagle911/ADA-logger/internal/scheduler"
)

// app holds the components shared by every subcommand
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	mirror   *mirror.Mirror
	cache    cache.Cache
	registry *scheduler.Registry
	now      func() time.Time

	closeMirror func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics("ada_logger")

	m, closeMirror, err := mirror.Open(ctx, cfg.Mirror, cfg.DataDir, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror: %w", err)
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		mirror:      m,
		cache:       cache.Open(ctx, cfg.Redis, logger),
		registry:    scheduler.NewRegistry(cfg.DefaultAsset),
		now:         time.Now,
		closeMirror: closeMirror,
	}

	for _, symbol := range cfg.Symbols {
		t, err := a.newTracker(symbol)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.registry.Add(t)
	}
	return a, nil
}

func (a *app) newTracker(symbol string) (*scheduler.Tracker, error) {
	asset, err := a.cfg.Asset(symbol)
	if err != nil {
		return nil, err
	}
	logger := a.logger.With("asset", asset.Symbol)
	sampling := a.cfg.Sampling
	agg := a.cfg.Aggregation

	store, err := partition.NewStore(a.cfg.AssetDir(asset), sampling.BlockHours, sampling.DepthLevels, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store for %s: %w", asset.Symbol, err)
	}

	fetcher := feed.NewFetcher(feed.FetcherOptions{
		URL:         asset.APIURL,
		Pair:        asset.Pair,
		Exchange:    asset.Exchange,
		DepthLevels: sampling.DepthLevels,
		Timeout:     sampling.FetchTimeout,
		Now:         a.now,
	})

	proc := aggregate.NewProcessor(aggregate.ProcessorOptions{
		Symbol: asset.Symbol,
		Store:  store,
		Mirror: a.mirror,
		Build: aggregate.Options{
			RecentWindow:  agg.RecentWindow,
			RecentCap:     agg.RecentCap,
			HistoricalCap: agg.HistoricalCap,
		},
		Parquet:      agg.ParquetEnabled,
		DepthLevels:  sampling.DepthLevels,
		TickInterval: sampling.TickInterval,
		BlockHours:   sampling.BlockHours,
		Logger:       logger,
		Metrics:      a.metrics,
		Now:          a.now,
	})

	return scheduler.NewTracker(scheduler.TrackerOptions{
		Asset:                   asset,
		Fetcher:                 fetcher,
		Store:                   store,
		Processor:               proc,
		Mirror:                  a.mirror,
		Cache:                   a.cache,
		TickInterval:            sampling.TickInterval,
		RecentInterval:          agg.RecentInterval,
		HistoricalInterval:      agg.HistoricalInterval,
		PartitionUploadInterval: a.cfg.Mirror.PartitionUploadInterval,
		Retention:               a.cfg.RetentionAge(),
		SyncOnStart:             a.cfg.Mirror.SyncOnStart,
		Logger:                  a.logger,
		Metrics:                 a.metrics,
		Now:                     a.now,
	}), nil
}

// Close releases the cache and mirror clients
func (a *app) Close() error {
	return errors.Join(a.cache.Close(), a.closeMirror())
}
