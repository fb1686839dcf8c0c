package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/gcagle911/ADA-logger/internal/feed"
	"github.com/gcagle911/ADA-logger/internal/logging"
	"github.com/gcagle911/ADA-logger/internal/mirror"
	"github.com/gcagle911/ADA-logger/internal/partition"
	"github.com/gcagle911/ADA-logger/internal/series"
)

type fixture struct {
	root   string
	store  *partition.Store
	remote *mirror.MemoryStore
	proc   *Processor
}

func newFixture(t *testing.T, now time.Time, parquet bool) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := partition.NewStore(filepath.Join(root, "data"), 8, 20, logging.Discard())
	require.NoError(t, err)

	remote := mirror.NewMemoryStore()
	proc := NewProcessor(ProcessorOptions{
		Symbol:       "ADA",
		Store:        store,
		Mirror:       mirror.New(remote, mirror.Options{Root: root, Logger: logging.Discard()}),
		Build:        defaultOptions,
		Parquet:      parquet,
		DepthLevels:  20,
		TickInterval: time.Second,
		BlockHours:   8,
		Logger:       logging.Discard(),
		Now:          func() time.Time { return now },
	})
	return &fixture{root: root, store: store, remote: remote, proc: proc}
}

func (f *fixture) append(t *testing.T, samples ...feed.Sample) {
	t.Helper()
	for _, s := range samples {
		_, err := f.store.Append(s)
		require.NoError(t, err)
	}
}

// snapshot reads every derived file under the asset directory
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() || strings.HasSuffix(path, ".csv") {
			return nil
		}
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		rel, _ := filepath.Rel(dir, path)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func readSeries(t *testing.T, path string) []series.Point {
	t.Helper()
	points, err := series.ReadFile(path)
	require.NoError(t, err)
	return points
}

func TestProcessor_CyclesAreIdempotent(t *testing.T) {
	f := newFixture(t, at(12, 0, 0), false)
	f.append(t,
		sample(at(9, 0, 1), 1, 1),
		sample(at(9, 0, 31), 2, 1),
		sample(at(9, 4, 0), 3, 1),
		sample(at(11, 59, 0), 4, 1),
	)
	ctx := context.Background()

	require.NoError(t, f.proc.RunRecent(ctx))
	require.NoError(t, f.proc.RunHistorical(ctx))
	first := snapshot(t, f.store.Dir())

	require.NoError(t, f.proc.RunRecent(ctx))
	require.NoError(t, f.proc.RunHistorical(ctx))
	second := snapshot(t, f.store.Dir())

	assert.Equal(t, first, second)
	assert.Contains(t, first, "recent.json")
	assert.Contains(t, first, "historical.json")
	assert.Contains(t, first, "archive/1min/2025-07-18.json")
	assert.Contains(t, first, "output_2025-07-18.json")
	assert.Contains(t, first, "metadata.json")
	assert.Contains(t, first, "index.json")

	recent := readSeries(t, f.proc.RecentPath())
	require.Len(t, recent, 3)
	assert.Equal(t, 2.0, recent[0].Price)
	assert.Equal(t, 2.0, recent[0].Volume)

	daily := readSeries(t, f.proc.DailyPath("2025-07-18"))
	assert.Len(t, daily, 180, "daily fills every minute from 09:00 to 11:59")
	assert.Equal(t, first["archive/1min/2025-07-18.json"], first["output_2025-07-18.json"])
}

func TestProcessor_NoDataLeavesFilesUntouched(t *testing.T) {
	f := newFixture(t, at(12, 0, 0), false)
	require.NoError(t, os.WriteFile(f.proc.RecentPath(), []byte("prior"), 0644))

	err := f.proc.RunRecent(context.Background())
	assert.True(t, errors.Is(err, ErrNoData))
	err = f.proc.RunHistorical(context.Background())
	assert.True(t, errors.Is(err, ErrNoData))

	data, err := os.ReadFile(f.proc.RecentPath())
	require.NoError(t, err)
	assert.Equal(t, "prior", string(data))
	_, err = os.Stat(f.proc.HistoricalPath())
	assert.True(t, os.IsNotExist(err))
}

func TestProcessor_SkipsCorruptPartition(t *testing.T) {
	f := newFixture(t, at(12, 0, 0), false)
	f.append(t, sample(at(9, 0, 0), 1, 1), sample(at(9, 1, 0), 2, 1))

	corrupt := "timestamp,asset,exchange,price,bid,ask,spread,volume,spread_avg_L20,spread_avg_L20_pct\n" +
		"not-a-time,ADA-USD,Coinbase,1,1,1,0,1,0,0\n"
	require.NoError(t, os.WriteFile(f.store.Path("2025-07-17_16.csv"), []byte(corrupt), 0644))

	require.NoError(t, f.proc.RunHistorical(context.Background()))

	var meta Metadata
	data, err := os.ReadFile(f.proc.MetadataPath())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, 2, meta.TotalRecords)
	assert.Equal(t, 2, meta.CSVFilesProcessed)
	assert.Equal(t, "ADA", meta.Symbol)
	assert.Equal(t, "2025-07-18T09:00:00+00:00", meta.DateRange.Start)
	assert.Equal(t, "2025-07-18T09:01:00+00:00", meta.DateRange.End)
	assert.Equal(t, []string{"ADA-USD"}, meta.Assets)
	assert.Equal(t, []string{"Coinbase"}, meta.Exchanges)
	assert.Contains(t, meta.DataPoints, "spread_avg_L20_pct")
	assert.Equal(t, "every 1s", meta.UpdateFrequency)
	assert.Equal(t, "every 8 hours", meta.FileRotation)
}

func TestProcessor_MergesWithPersistedRecent(t *testing.T) {
	now := at(12, 0, 0)
	f := newFixture(t, now, false)
	f.append(t, sample(at(11, 0, 0), 5, 1))

	prior := []series.Point{
		{Time: now.Add(-30 * time.Hour), Price: 1},
		{Time: at(10, 0, 0), Price: 2},
		{Time: at(11, 0, 0), Price: 3},
	}
	require.NoError(t, series.WriteFile(f.proc.RecentPath(), prior))

	require.NoError(t, f.proc.RunRecent(context.Background()))

	got := readSeries(t, f.proc.RecentPath())
	require.Len(t, got, 2, "points outside the window are dropped")
	assert.Equal(t, at(10, 0, 0), got[0].Time)
	assert.Equal(t, 2.0, got[0].Price)
	assert.Equal(t, 5.0, got[1].Price, "fresh computation wins")
}

func TestProcessor_HydratesFromMirror(t *testing.T) {
	f := newFixture(t, at(12, 0, 0), false)
	f.append(t, sample(at(9, 0, 0), 5, 1))

	persisted := []series.Point{{Time: at(8, 0, 0), Price: 7}}
	require.NoError(t, series.WriteFile(f.proc.HistoricalPath(), persisted))

	remote, err := json.Marshal([]series.Point{
		{Time: at(7, 0, 0), Price: 6},
		{Time: at(8, 0, 0), Price: 8},
		{Time: at(9, 0, 0), Price: 99},
	})
	require.NoError(t, err)
	f.remote.Put("data/historical.json", remote)

	require.NoError(t, f.proc.RunHistorical(context.Background()))

	got := readSeries(t, f.proc.HistoricalPath())
	require.Len(t, got, 3)
	assert.Equal(t, 6.0, got[0].Price, "remote-only point is kept")
	assert.Equal(t, 7.0, got[1].Price, "local wins over remote")
	assert.Equal(t, 5.0, got[2].Price, "fresh wins over both")

	_, err = os.Stat(f.proc.HistoricalPath() + ".remote")
	assert.True(t, os.IsNotExist(err))
}

func TestProcessor_UploadsWrittenFiles(t *testing.T) {
	f := newFixture(t, at(12, 0, 0), false)
	f.append(t, sample(at(9, 0, 0), 5, 1))
	ctx := context.Background()

	require.NoError(t, f.proc.RunRecent(ctx))
	require.NoError(t, f.proc.RunHistorical(ctx))

	keys, err := f.remote.List(ctx, "data/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"data/archive/1min/2025-07-18.json",
		"data/historical.json",
		"data/index.json",
		"data/metadata.json",
		"data/output_2025-07-18.json",
		"data/recent.json",
	}, keys)

	_, attrs, ok := f.remote.Object("data/recent.json")
	require.True(t, ok)
	assert.Equal(t, "application/json", attrs.ContentType)
}

func TestProcessor_IndexListsFiles(t *testing.T) {
	f := newFixture(t, at(12, 0, 0), true)
	f.append(t, sample(at(9, 0, 0), 5, 1), sample(at(24, 0, 0), 6, 1))

	require.NoError(t, f.proc.RunHistorical(context.Background()))

	var index Index
	data, err := os.ReadFile(f.proc.IndexPath())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &index))

	assert.Equal(t, "2025-07-18T12:00:00+00:00", index.GeneratedAt)
	assert.Equal(t, []string{"2025-07-18_08.csv", "2025-07-19_00.csv"}, index.CSVSources)
	assert.Equal(t, []string{"output_2025-07-18.json", "output_2025-07-19.json"}, index.DailyFiles)
	assert.Equal(t, []string{
		"archive/1min/2025-07-18.json",
		"archive/1min/2025-07-19.json",
		"archive/parquet/2025-07-18.parquet",
		"archive/parquet/2025-07-19.parquet",
	}, index.ArchiveFiles)
	assert.Equal(t, []string{"recent.json", "historical.json"}, index.ChartFiles)
	assert.Equal(t, []string{"metadata.json", "index.json"}, index.MetadataFiles)
}

func TestProcessor_WritesParquetArchive(t *testing.T) {
	f := newFixture(t, at(12, 0, 0), true)
	f.append(t, sample(at(9, 0, 0), 5, 1), sample(at(9, 2, 0), 6, 2))

	require.NoError(t, f.proc.RunHistorical(context.Background()))

	fr, err := local.NewLocalFileReader(f.proc.ParquetPath("2025-07-18"))
	require.NoError(t, err)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetPoint), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	require.Equal(t, 3, n)
	rows := make([]parquetPoint, n)
	require.NoError(t, pr.Read(&rows))

	assert.Equal(t, "ADA", rows[0].Symbol)
	assert.Equal(t, "2025-07-18", rows[0].Date)
	assert.Equal(t, at(9, 0, 0).Unix(), rows[0].Timestamp)
	assert.Equal(t, 5.0, rows[1].Price)
	assert.Equal(t, 0.0, rows[1].Volume)
	assert.Equal(t, 2.0, rows[2].Volume)

	_, _, ok := f.remote.Object("data/archive/parquet/2025-07-18.parquet")
	assert.True(t, ok)
}
