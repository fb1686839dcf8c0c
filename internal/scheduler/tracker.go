// Package scheduler drives the per-asset sampling loop and triggers the
// aggregation cycles.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gcagle911/ADA-logger/internal/aggregate"
	"github.com/gcagle911/ADA-logger/internal/cache"
	"github.com/gcagle911/ADA-logger/internal/config"
	"github.com/gcagle911/ADA-logger/internal/feed"
	"github.com/gcagle911/ADA-logger/internal/mirror"
	"github.com/gcagle911/ADA-logger/internal/observability"
	"github.com/gcagle911/ADA-logger/internal/partition"
)

// Fetcher produces one sample per call
type Fetcher interface {
	Fetch(ctx context.Context) (feed.Sample, error)
}

// TrackerOptions wires one asset's components together
type TrackerOptions struct {
	Asset     config.AssetConfig
	Fetcher   Fetcher
	Store     *partition.Store
	Processor *aggregate.Processor
	Mirror    *mirror.Mirror
	Cache     cache.Cache

	TickInterval            time.Duration
	RecentInterval          time.Duration
	HistoricalInterval      time.Duration
	PartitionUploadInterval time.Duration
	Retention               time.Duration
	SyncOnStart             bool

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Tracker samples one asset on a fixed cadence
type Tracker struct {
	opts    TrackerOptions
	symbol  string
	mirror  *mirror.Mirror
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	// owned by the loop goroutine
	lastRecent     time.Time
	lastHistorical time.Time
	lastPartition  string
	lastUpload     time.Time

	busy atomic.Bool
	wg   sync.WaitGroup

	mu         sync.RWMutex
	lastLogged time.Time
}

// NewTracker creates a tracker, filling in default intervals
func NewTracker(opts TrackerOptions) *Tracker {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.RecentInterval <= 0 {
		opts.RecentInterval = 5 * time.Minute
	}
	if opts.HistoricalInterval <= 0 {
		opts.HistoricalInterval = time.Hour
	}
	if opts.PartitionUploadInterval <= 0 {
		opts.PartitionUploadInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mirror == nil {
		opts.Mirror = mirror.Disabled()
	}
	return &Tracker{
		opts:    opts,
		symbol:  opts.Asset.Symbol,
		mirror:  opts.Mirror,
		logger:  opts.Logger.With("asset", opts.Asset.Symbol),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Symbol returns the tracked asset symbol
func (t *Tracker) Symbol() string { return t.symbol }

// Asset returns the asset table row
func (t *Tracker) Asset() config.AssetConfig { return t.opts.Asset }

// Store returns the raw partition store
func (t *Tracker) Store() *partition.Store { return t.opts.Store }

// Processor returns the aggregate processor
func (t *Tracker) Processor() *aggregate.Processor { return t.opts.Processor }

// LastSample returns the cached last sample
func (t *Tracker) LastSample(ctx context.Context) (feed.Sample, error) {
	if t.opts.Cache == nil {
		return feed.Sample{}, cache.ErrNotFound
	}
	return t.opts.Cache.GetLast(ctx, t.symbol)
}

// LastLogged returns the timestamp of the last appended sample
func (t *Tracker) LastLogged() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastLogged
}

// Prepare restores missing files from the mirror when configured and runs
// the initial aggregation cycles for aggregates that do not exist yet.
func (t *Tracker) Prepare(ctx context.Context) {
	now := t.now()
	proc := t.opts.Processor

	if t.opts.SyncOnStart && t.mirror.Enabled() {
		current := t.opts.Store.Path(t.opts.Store.KeyFor(now).FileName())
		for _, path := range []string{proc.RecentPath(), proc.HistoricalPath(), current} {
			if exists(path) {
				continue
			}
			if t.mirror.DownloadFile(ctx, path) {
				t.logger.Info("restored from mirror", "file", path)
			}
		}
	}

	if !exists(proc.RecentPath()) {
		t.runCycle(ctx, "recent", proc.RunRecent)
	}
	if !exists(proc.HistoricalPath()) {
		t.runCycle(ctx, "historical", proc.RunHistorical)
	}
	t.lastRecent = now
	t.lastHistorical = now
}

// Run ticks until ctx is cancelled. The tick in progress finishes and the
// aggregation worker is waited for before Run returns.
func (t *Tracker) Run(ctx context.Context) error {
	defer t.wg.Wait()

	t.logger.Info("tracker started", "interval", t.opts.TickInterval)
	for {
		if ctx.Err() != nil {
			t.logger.Info("tracker stopped")
			return nil
		}
		start := time.Now()
		if err := t.Tick(ctx); err != nil {
			t.logger.Warn("tick failed", "err", err)
		}

		wait := t.opts.TickInterval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("tracker stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Tick performs one sampling step and fires any due aggregation cycle.
// A panic inside the tick is recovered and returned as an error.
func (t *Tracker) Tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.RecordTick(t.symbol, "panic")
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()

	// a started tick is never aborted midway by shutdown
	ctx = context.WithoutCancel(ctx)
	now := t.now()

	err = t.sample(ctx, now)
	t.maybeAggregate(ctx, now)
	return err
}

func (t *Tracker) sample(ctx context.Context, now time.Time) error {
	start := time.Now()
	s, err := t.opts.Fetcher.Fetch(ctx)
	t.metrics.RecordFetch(t.symbol, time.Since(start))
	if err != nil {
		t.metrics.RecordTick(t.symbol, "fetch_error")
		return fmt.Errorf("fetch: %w", err)
	}

	name, err := t.opts.Store.Append(s)
	if err != nil {
		t.metrics.RecordTick(t.symbol, "store_error")
		return fmt.Errorf("append: %w", err)
	}
	t.metrics.RecordTick(t.symbol, "ok")
	t.metrics.RecordAppend(t.symbol, s.Timestamp)

	t.mu.Lock()
	t.lastLogged = s.Timestamp
	t.mu.Unlock()

	if t.opts.Cache != nil {
		if err := t.opts.Cache.SetLast(ctx, t.symbol, s); err != nil {
			t.logger.Debug("cache update failed", "err", err)
		}
	}

	t.maybeUploadPartition(ctx, name, now)
	return nil
}

// maybeUploadPartition pushes the active partition at most once per upload
// interval, and the previous partition once when the block rolls over.
func (t *Tracker) maybeUploadPartition(ctx context.Context, name string, now time.Time) {
	if !t.mirror.Enabled() {
		return
	}
	if t.lastPartition != "" && t.lastPartition != name {
		t.mirror.UploadFile(ctx, t.opts.Store.Path(t.lastPartition))
		t.lastUpload = time.Time{}
	}
	t.lastPartition = name

	if t.lastUpload.IsZero() || now.Sub(t.lastUpload) >= t.opts.PartitionUploadInterval {
		t.mirror.UploadFile(ctx, t.opts.Store.Path(name))
		t.lastUpload = now
	}
}

func (t *Tracker) maybeAggregate(ctx context.Context, now time.Time) {
	if t.lastRecent.IsZero() {
		t.lastRecent = now
	}
	if t.lastHistorical.IsZero() {
		t.lastHistorical = now
	}
	recent := now.Sub(t.lastRecent) >= t.opts.RecentInterval
	historical := now.Sub(t.lastHistorical) >= t.opts.HistoricalInterval
	if !recent && !historical {
		return
	}

	if !t.busy.CompareAndSwap(false, true) {
		t.logger.Debug("aggregation still running, trigger skipped")
		return
	}
	if recent {
		t.lastRecent = now
	}
	if historical {
		t.lastHistorical = now
	}

	proc := t.opts.Processor
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.busy.Store(false)
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("recovered from panic in aggregation", "panic", r)
			}
		}()

		if recent {
			t.runCycle(ctx, "recent", proc.RunRecent)
		}
		if historical {
			t.runCycle(ctx, "historical", proc.RunHistorical)
			t.sweep(now)
		}
	}()
}

// Wait blocks until the running aggregation cycle, if any, has finished
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) runCycle(ctx context.Context, kind string, run func(context.Context) error) {
	err := run(ctx)
	switch {
	case errors.Is(err, aggregate.ErrNoData):
		t.logger.Info("no samples yet, aggregation skipped", "kind", kind)
	case err != nil:
		t.logger.Error("aggregation failed", "kind", kind, "err", err)
	}
}

func (t *Tracker) sweep(now time.Time) {
	removed, err := t.opts.Store.Sweep(t.opts.Retention, now)
	if err != nil {
		t.logger.Error("retention sweep failed", "err", err)
		return
	}
	t.metrics.RecordPartitionsRemoved(t.symbol, len(removed))
	if len(removed) > 0 {
		t.logger.Info("removed expired partitions", "count", len(removed))
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
