package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcagle911/ADA-logger/internal/aggregate"
	"github.com/gcagle911/ADA-logger/internal/cache"
	"github.com/gcagle911/ADA-logger/internal/config"
	"github.com/gcagle911/ADA-logger/internal/feed"
	"github.com/gcagle911/ADA-logger/internal/logging"
	"github.com/gcagle911/ADA-logger/internal/mirror"
	"github.com/gcagle911/ADA-logger/internal/partition"
	"github.com/gcagle911/ADA-logger/internal/series"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) { c.Set(c.Now().Add(d)) }

type fetchFunc func(ctx context.Context) (feed.Sample, error)

func (f fetchFunc) Fetch(ctx context.Context) (feed.Sample, error) { return f(ctx) }

func sampleAt(ts time.Time, volume float64) feed.Sample {
	return feed.Sample{
		Timestamp:    ts,
		Asset:        "ADA-USD",
		Exchange:     "Coinbase",
		Price:        0.75,
		Bid:          0.7499,
		Ask:          0.7501,
		Spread:       0.0002,
		Volume:       volume,
		SpreadAvg:    0.0004,
		SpreadAvgPct: 0.05,
		DepthLevels:  20,
	}
}

type harness struct {
	root    string
	clock   *clock
	store   *partition.Store
	remote  *mirror.MemoryStore
	cache   *cache.MemoryCache
	tracker *Tracker
}

func newHarness(t *testing.T, fetcher Fetcher, withMirror bool) *harness {
	t.Helper()
	root := t.TempDir()
	clk := &clock{t: time.Date(2025, 7, 18, 10, 0, 0, 200_000_000, time.UTC)}
	store, err := partition.NewStore(filepath.Join(root, "data"), 8, 20, logging.Discard())
	require.NoError(t, err)

	remote := mirror.NewMemoryStore()
	m := mirror.Disabled()
	if withMirror {
		m = mirror.New(remote, mirror.Options{Root: root, Logger: logging.Discard()})
	}

	proc := aggregate.NewProcessor(aggregate.ProcessorOptions{
		Symbol:       "ADA",
		Store:        store,
		Mirror:       m,
		Build:        aggregate.Options{RecentWindow: 24 * time.Hour, RecentCap: 1440, HistoricalCap: 500000},
		DepthLevels:  20,
		TickInterval: time.Second,
		BlockHours:   8,
		Logger:       logging.Discard(),
		Now:          clk.Now,
	})

	if fetcher == nil {
		var n int
		fetcher = fetchFunc(func(ctx context.Context) (feed.Sample, error) {
			n++
			return sampleAt(clk.Now(), float64(n)), nil
		})
	}

	c := cache.NewMemoryCache()
	tr := NewTracker(TrackerOptions{
		Asset:       config.AssetConfig{Symbol: "ADA", Pair: "ADA-USD", Exchange: "Coinbase"},
		Fetcher:     fetcher,
		Store:       store,
		Processor:   proc,
		Mirror:      m,
		Cache:       c,
		SyncOnStart: true,
		Retention:   30 * 24 * time.Hour,
		Logger:      logging.Discard(),
		Now:         clk.Now,
	})
	return &harness{root: root, clock: clk, store: store, remote: remote, cache: c, tracker: tr}
}

func rows(t *testing.T, store *partition.Store) []feed.Sample {
	t.Helper()
	names, err := store.Files()
	require.NoError(t, err)
	var all []feed.Sample
	for _, name := range names {
		samples, err := store.Load(name)
		require.NoError(t, err)
		all = append(all, samples...)
	}
	return all
}

func TestTracker_TwoTicksThenRecentCycle(t *testing.T) {
	h := newHarness(t, nil, false)
	ctx := context.Background()

	require.NoError(t, h.tracker.Tick(ctx))
	h.clock.Advance(time.Second)
	require.NoError(t, h.tracker.Tick(ctx))

	got := rows(t, h.store)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Volume)
	assert.Equal(t, 2.0, got[1].Volume)

	require.NoError(t, h.tracker.Processor().RunRecent(ctx))
	recent, err := series.ReadFile(h.tracker.Processor().RecentPath())
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 3.0, recent[0].Volume)
	assert.Equal(t, time.Date(2025, 7, 18, 10, 0, 0, 0, time.UTC), recent[0].Time)
}

func TestTracker_TickUpdatesStatus(t *testing.T) {
	h := newHarness(t, nil, false)
	ctx := context.Background()
	assert.True(t, h.tracker.LastLogged().IsZero())

	require.NoError(t, h.tracker.Tick(ctx))

	assert.Equal(t, h.clock.Now(), h.tracker.LastLogged())
	last, err := h.tracker.LastSample(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, last.Volume)
}

func TestTracker_WallClockTriggers(t *testing.T) {
	h := newHarness(t, nil, false)
	ctx := context.Background()
	proc := h.tracker.Processor()

	require.NoError(t, h.tracker.Tick(ctx))
	h.clock.Advance(4 * time.Minute)
	require.NoError(t, h.tracker.Tick(ctx))
	h.tracker.Wait()
	assert.NoFileExists(t, proc.RecentPath())

	h.clock.Advance(time.Minute)
	require.NoError(t, h.tracker.Tick(ctx))
	h.tracker.Wait()
	assert.FileExists(t, proc.RecentPath())
	assert.NoFileExists(t, proc.HistoricalPath())

	h.clock.Advance(55 * time.Minute)
	require.NoError(t, h.tracker.Tick(ctx))
	h.tracker.Wait()
	assert.FileExists(t, proc.HistoricalPath())
	assert.FileExists(t, proc.MetadataPath())
}

func TestTracker_TriggerSkippedWhileBusy(t *testing.T) {
	h := newHarness(t, nil, false)
	ctx := context.Background()
	proc := h.tracker.Processor()

	require.NoError(t, h.tracker.Tick(ctx))
	h.tracker.busy.Store(true)
	h.clock.Advance(5 * time.Minute)
	require.NoError(t, h.tracker.Tick(ctx))
	h.tracker.Wait()
	assert.NoFileExists(t, proc.RecentPath())

	h.tracker.busy.Store(false)
	h.clock.Advance(time.Second)
	require.NoError(t, h.tracker.Tick(ctx))
	h.tracker.Wait()
	assert.FileExists(t, proc.RecentPath())
}

func TestTracker_FetchFailureWritesNothing(t *testing.T) {
	h := newHarness(t, fetchFunc(func(ctx context.Context) (feed.Sample, error) {
		return feed.Sample{}, feed.ErrEmptyBook
	}), false)

	err := h.tracker.Tick(context.Background())
	assert.True(t, errors.Is(err, feed.ErrEmptyBook))
	assert.Empty(t, rows(t, h.store))
	assert.True(t, h.tracker.LastLogged().IsZero())
}

func TestTracker_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, fetchFunc(func(ctx context.Context) (feed.Sample, error) {
		panic("boom")
	}), false)

	err := h.tracker.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestTracker_RunStopsAfterCurrentTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var h *harness
	var calls int
	h = newHarness(t, fetchFunc(func(fctx context.Context) (feed.Sample, error) {
		calls++
		ts := h.clock.Now()
		h.clock.Advance(time.Second)
		if calls == 2 {
			cancel()
		}
		return sampleAt(ts, 1), fctx.Err()
	}), false)
	h.tracker.opts.TickInterval = 5 * time.Millisecond

	done := make(chan struct{})
	go func() {
		assert.NoError(t, h.tracker.Run(ctx))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 2, calls)
	assert.Len(t, rows(t, h.store), 2)
}

func TestTracker_PartitionUploadPolicy(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	key := "data/2025-07-18_08.csv"

	lines := func(key string) int {
		data, _, ok := h.remote.Object(key)
		require.True(t, ok, key)
		return strings.Count(string(data), "\n")
	}

	require.NoError(t, h.tracker.Tick(ctx))
	assert.Equal(t, 2, lines(key), "first append uploads immediately")

	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.tracker.Tick(ctx))
	assert.Equal(t, 2, lines(key), "no upload within the interval")

	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.tracker.Tick(ctx))
	assert.Equal(t, 4, lines(key))

	h.clock.Set(time.Date(2025, 7, 18, 16, 0, 0, 0, time.UTC))
	h.tracker.lastRecent = h.clock.Now()
	h.tracker.lastHistorical = h.clock.Now()
	require.NoError(t, h.tracker.Tick(ctx))
	assert.Equal(t, 4, lines(key), "rolled over partition is pushed in its final state")
	assert.Equal(t, 2, lines("data/2025-07-18_16.csv"))
}

func TestTracker_PrepareHydratesAndRunsInitialCycles(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	proc := h.tracker.Processor()

	partitionCSV := "timestamp,asset,exchange,price,bid,ask,spread,volume,spread_avg_L20,spread_avg_L20_pct\n" +
		"2025-07-18T09:59:00.000000+00:00,ADA-USD,Coinbase,0.75,0.7499,0.7501,0.0002,5,0.0004,0.05\n"
	h.remote.Put("data/2025-07-18_08.csv", []byte(partitionCSV))
	historical := `[{"time": "2025-07-17T09:00:00+00:00", "price": 0.7, "bid": 0.69, "ask": 0.71, "spread": 0.02, "spread_pct": 2.8, "volume": 1}]`
	h.remote.Put("data/historical.json", []byte(historical))

	h.tracker.Prepare(ctx)

	got := rows(t, h.store)
	require.Len(t, got, 1)
	assert.Equal(t, 5.0, got[0].Volume)

	recent, err := series.ReadFile(proc.RecentPath())
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 5.0, recent[0].Volume)

	data, err := os.ReadFile(proc.HistoricalPath())
	require.NoError(t, err)
	assert.Equal(t, historical, string(data), "restored aggregate is not recomputed at startup")
}

func TestTracker_PrepareWithoutDataIsQuiet(t *testing.T) {
	h := newHarness(t, nil, false)

	h.tracker.Prepare(context.Background())

	assert.NoFileExists(t, h.tracker.Processor().RecentPath())
	assert.NoFileExists(t, h.tracker.Processor().HistoricalPath())
}
