package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gcagle911/ADA-logger/internal/feed"
	"github.com/gcagle911/ADA-logger/internal/mirror"
	"github.com/gcagle911/ADA-logger/internal/observability"
	"github.com/gcagle911/ADA-logger/internal/partition"
	"github.com/gcagle911/ADA-logger/internal/series"
)

// Persisted file names under the asset directory
const (
	RecentFile     = "recent.json"
	HistoricalFile = "historical.json"
	MetadataFile   = "metadata.json"
	IndexFile      = "index.json"
	DailyDir       = "archive/1min"
	ParquetDir     = "archive/parquet"
)

// ProcessorOptions configures a Processor
type ProcessorOptions struct {
	Symbol       string
	Store        *partition.Store
	Mirror       *mirror.Mirror
	Build        Options
	Parquet      bool
	DepthLevels  int
	TickInterval time.Duration
	BlockHours   int
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	Now          func() time.Time
}

// Processor runs the persistence cycles of one asset. Cycles are serialized.
type Processor struct {
	opts    ProcessorOptions
	dir     string
	mirror  *mirror.Mirror
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu sync.Mutex
}

// NewProcessor creates a processor writing next to the store's partitions
func NewProcessor(opts ProcessorOptions) *Processor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mirror == nil {
		opts.Mirror = mirror.Disabled()
	}
	return &Processor{
		opts:    opts,
		dir:     opts.Store.Dir(),
		mirror:  opts.Mirror,
		logger:  opts.Logger.With("component", "aggregate"),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Dir returns the asset directory
func (p *Processor) Dir() string { return p.dir }

// RecentPath returns the recent series file
func (p *Processor) RecentPath() string { return filepath.Join(p.dir, RecentFile) }

// HistoricalPath returns the historical series file
func (p *Processor) HistoricalPath() string { return filepath.Join(p.dir, HistoricalFile) }

// DailyPath returns the archive file of one UTC date
func (p *Processor) DailyPath(date string) string {
	return filepath.Join(p.dir, filepath.FromSlash(DailyDir), date+".json")
}

// LegacyDailyPath returns the output_<date>.json file of one UTC date
func (p *Processor) LegacyDailyPath(date string) string {
	return filepath.Join(p.dir, "output_"+date+".json")
}

// ParquetPath returns the parquet archive of one UTC date
func (p *Processor) ParquetPath(date string) string {
	return filepath.Join(p.dir, filepath.FromSlash(ParquetDir), date+".parquet")
}

// MetadataPath returns the metadata file
func (p *Processor) MetadataPath() string { return filepath.Join(p.dir, MetadataFile) }

// IndexPath returns the index file
func (p *Processor) IndexPath() string { return filepath.Join(p.dir, IndexFile) }

// Load reads every partition of the asset. A partition that fails to parse
// is skipped. ErrNoData is returned when nothing could be read.
func (p *Processor) Load() ([]feed.Sample, []string, error) {
	names, err := p.opts.Store.Files()
	if err != nil {
		return nil, nil, err
	}

	var samples []feed.Sample
	for _, name := range names {
		rows, err := p.opts.Store.Load(name)
		if err != nil {
			p.logger.Error("skipping partition", "file", name, "err", err)
			p.metrics.RecordPartitionSkipped(p.opts.Symbol)
			continue
		}
		samples = append(samples, rows...)
	}
	if len(samples) == 0 {
		return nil, names, ErrNoData
	}
	return samples, names, nil
}

// RunRecent recomputes and persists the recent series
func (p *Processor) RunRecent(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	err := p.runRecent(ctx)
	p.record("recent", start, err)
	return err
}

func (p *Processor) runRecent(ctx context.Context) error {
	samples, _, err := p.Load()
	if err != nil {
		return err
	}
	now := p.now()
	res, err := Build(samples, now, p.opts.Build)
	if err != nil {
		return err
	}

	window := p.opts.Build.RecentWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	merged, err := p.reconcile(ctx, p.RecentPath(), res.Recent, p.opts.Build.RecentCap, now.Add(-window))
	if err != nil {
		return err
	}
	p.metrics.SetSeriesPoints(p.opts.Symbol, "recent", len(merged))
	p.logger.Info("recent series updated", "points", len(merged), "samples", res.Samples)
	return nil
}

// RunHistorical recomputes and persists the historical and daily series,
// the metadata and the index.
func (p *Processor) RunHistorical(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	err := p.runHistorical(ctx)
	p.record("historical", start, err)
	return err
}

func (p *Processor) runHistorical(ctx context.Context) error {
	samples, names, err := p.Load()
	if err != nil {
		return err
	}
	now := p.now()
	res, err := Build(samples, now, p.opts.Build)
	if err != nil {
		return err
	}

	merged, err := p.reconcile(ctx, p.HistoricalPath(), res.Historical, p.opts.Build.HistoricalCap, time.Time{})
	if err != nil {
		return err
	}
	p.metrics.SetSeriesPoints(p.opts.Symbol, "historical", len(merged))

	for _, date := range res.Dates() {
		if err := p.writeDaily(ctx, date, res.Daily[date]); err != nil {
			return err
		}
	}

	if err := p.writeJSON(ctx, p.MetadataPath(), p.metadata(res, len(names), now)); err != nil {
		return err
	}
	index, err := p.index(names, now)
	if err != nil {
		return err
	}
	if err := p.writeJSON(ctx, p.IndexPath(), index); err != nil {
		return err
	}

	p.logger.Info("historical series updated",
		"points", len(merged),
		"days", len(res.Daily),
		"partitions", len(names),
		"samples", res.Samples)
	return nil
}

func (p *Processor) writeDaily(ctx context.Context, date string, fresh []series.Point) error {
	daily, err := p.reconcile(ctx, p.DailyPath(date), fresh, 0, time.Time{})
	if err != nil {
		return err
	}

	legacy := p.LegacyDailyPath(date)
	if err := series.WriteFile(legacy, daily); err != nil {
		return err
	}
	p.mirror.UploadFile(ctx, legacy)

	if p.opts.Parquet {
		path := p.ParquetPath(date)
		if err := writeParquet(path, p.opts.Symbol, daily); err != nil {
			// parquet is a secondary archive; the JSON is already persisted
			p.logger.Error("failed to write parquet archive", "date", date, "err", err)
			return nil
		}
		p.mirror.UploadFile(ctx, path)
	}
	return nil
}

// reconcile merges fresh onto the persisted series at path, hydrated from
// the mirror when enabled, then writes and uploads the result. Local points
// win over remote ones; fresh points win over both. A non-zero cutoff drops
// points before it.
func (p *Processor) reconcile(ctx context.Context, path string, fresh []series.Point, limit int, cutoff time.Time) ([]series.Point, error) {
	local, err := series.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn("ignoring unreadable series", "file", path, "err", err)
	}
	remote := p.hydrate(ctx, path)

	merged := series.Merge(series.Merge(remote, local, limit), fresh, limit)
	if !cutoff.IsZero() {
		merged = series.Since(merged, cutoff)
	}

	if err := series.WriteFile(path, merged); err != nil {
		return nil, err
	}
	p.mirror.UploadFile(ctx, path)
	return merged, nil
}

func (p *Processor) hydrate(ctx context.Context, path string) []series.Point {
	if !p.mirror.Enabled() {
		return nil
	}
	key, err := p.mirror.KeyFor(path)
	if err != nil {
		return nil
	}
	tmp := path + ".remote"
	defer os.Remove(tmp)

	if !p.mirror.Download(ctx, key, tmp) {
		return nil
	}
	points, err := series.ReadFile(tmp)
	if err != nil {
		p.logger.Warn("ignoring unreadable remote series", "key", key, "err", err)
		return nil
	}
	return points
}

func (p *Processor) writeJSON(ctx context.Context, path string, v any) error {
	if err := series.WriteJSON(path, v); err != nil {
		return err
	}
	p.mirror.UploadFile(ctx, path)
	return nil
}

func (p *Processor) metadata(res Result, files int, now time.Time) Metadata {
	depth := p.opts.DepthLevels
	if depth <= 0 {
		depth = 20
	}
	avg := fmt.Sprintf("spread_avg_L%d", depth)

	return Metadata{
		GeneratedAt:       now.UTC().Format(series.TimeLayout),
		Symbol:            p.opts.Symbol,
		TotalRecords:      res.Samples,
		DateRange:         DateRange{Start: res.First.Format(series.TimeLayout), End: res.Last.Format(series.TimeLayout)},
		CSVFilesProcessed: files,
		Assets:            res.Assets,
		Exchanges:         res.Exchanges,
		DataPoints: map[string]string{
			"timestamp":    "UTC time of the order book snapshot",
			"price":        "mid price between best bid and best ask",
			"bid":          "best bid",
			"ask":          "best ask",
			"spread":       "best ask minus best bid",
			"volume":       fmt.Sprintf("sum of sizes over the top %d levels of both sides", depth),
			avg:            fmt.Sprintf("average spread over the top %d levels", depth),
			avg + "_pct":   fmt.Sprintf("average spread over the top %d levels as a percentage of mid", depth),
			"chart_bucket": "one minute; last price, mean spread, summed volume",
		},
		UpdateFrequency: fmt.Sprintf("every %s", p.opts.TickInterval),
		FileRotation:    fmt.Sprintf("every %d hours", p.opts.BlockHours),
	}
}

func (p *Processor) index(sources []string, now time.Time) (Index, error) {
	daily, err := p.glob("output_*.json")
	if err != nil {
		return Index{}, err
	}
	archive, err := p.glob(DailyDir + "/*.json")
	if err != nil {
		return Index{}, err
	}
	parquetFiles, err := p.glob(ParquetDir + "/*.parquet")
	if err != nil {
		return Index{}, err
	}
	if sources == nil {
		sources = []string{}
	}
	return Index{
		GeneratedAt:   now.UTC().Format(series.TimeLayout),
		CSVSources:    sources,
		DailyFiles:    daily,
		ArchiveFiles:  append(archive, parquetFiles...),
		ChartFiles:    []string{RecentFile, HistoricalFile},
		MetadataFiles: []string{MetadataFile, IndexFile},
	}, nil
}

// glob lists files matching a slash pattern relative to the asset directory
func (p *Processor) glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(p.dir, filepath.FromSlash(pattern)))
	if err != nil {
		return nil, err
	}
	files := []string{}
	for _, m := range matches {
		rel, err := filepath.Rel(p.dir, m)
		if err != nil {
			continue
		}
		if strings.HasPrefix(filepath.Base(rel), ".") {
			continue
		}
		files = append(files, filepath.ToSlash(rel))
	}
	sort.Strings(files)
	return files, nil
}

func (p *Processor) record(kind string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrNoData):
		status = "no_data"
	case err != nil:
		status = "error"
	}
	p.metrics.RecordAggregation(p.opts.Symbol, kind, status, time.Since(start))
}
