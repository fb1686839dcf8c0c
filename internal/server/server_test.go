package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcagle911/ADA-logger/internal/aggregate"
	"github.com/gcagle911/ADA-logger/internal/cache"
	"github.com/gcagle911/ADA-logger/internal/config"
	"github.com/gcagle911/ADA-logger/internal/feed"
	"github.com/gcagle911/ADA-logger/internal/logging"
	"github.com/gcagle911/ADA-logger/internal/observability"
	"github.com/gcagle911/ADA-logger/internal/partition"
	"github.com/gcagle911/ADA-logger/internal/scheduler"
	"github.com/gcagle911/ADA-logger/internal/series"
)

var now = time.Date(2025, 7, 18, 10, 0, 0, 0, time.UTC)

type fetchFunc func(ctx context.Context) (feed.Sample, error)

func (f fetchFunc) Fetch(ctx context.Context) (feed.Sample, error) { return f(ctx) }

func newTestServer(t *testing.T) (*httptest.Server, *scheduler.Tracker) {
	t.Helper()
	root := t.TempDir()
	store, err := partition.NewStore(filepath.Join(root, "data"), 8, 20, logging.Discard())
	require.NoError(t, err)
	proc := aggregate.NewProcessor(aggregate.ProcessorOptions{
		Symbol: "ADA",
		Store:  store,
		Logger: logging.Discard(),
		Now:    func() time.Time { return now },
	})

	tracker := scheduler.NewTracker(scheduler.TrackerOptions{
		Asset: config.AssetConfig{Symbol: "ADA", Pair: "ADA-USD", Exchange: "Coinbase"},
		Fetcher: fetchFunc(func(ctx context.Context) (feed.Sample, error) {
			return feed.Sample{
				Timestamp: now,
				Asset:     "ADA-USD",
				Exchange:  "Coinbase",
				Price:     0.75,
				Bid:       0.7499,
				Ask:       0.7501,
				Spread:    0.0002,
				Volume:    100,
			}, nil
		}),
		Store:     store,
		Processor: proc,
		Cache:     cache.NewMemoryCache(),
		Logger:    logging.Discard(),
		Now:       func() time.Time { return now },
	})

	registry := scheduler.NewRegistry("ADA")
	registry.Add(tracker)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWith("test", reg, reg)
	srv := New(":0", registry, metrics, logging.Discard())
	srv.now = func() time.Time { return now }

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tracker
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func assertJSONError(t *testing.T, resp *http.Response, body string) {
	t.Helper()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.NotEmpty(t, payload["error"])
}

func TestServer_InfoAndHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	assert.Equal(t, "ADA", info["default_asset"])
	assert.Equal(t, []any{"ADA"}, info["assets"])

	resp, body = get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestServer_Status(t *testing.T) {
	ts, tracker := newTestServer(t)
	require.NoError(t, tracker.Tick(context.Background()))

	resp, body := get(t, ts.URL+"/ada/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st AssetStatus
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, "ADA", st.Symbol)
	assert.Equal(t, "ADA-USD", st.Pair)
	assert.Equal(t, "2025-07-18_08.csv", st.CurrentFile)
	assert.Equal(t, 1, st.Partitions)
	assert.Equal(t, "2025-07-18T10:00:00Z", st.LastLogged)
	require.NotNil(t, st.LastSample)
	assert.Equal(t, 100.0, st.LastSample.Volume)

	resp, body = get(t, ts.URL+"/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"symbol":"ADA"`)

	resp, body = get(t, ts.URL+"/DOGE/status")
	assertJSONError(t, resp, body)
}

func TestServer_AggregateFiles(t *testing.T) {
	ts, tracker := newTestServer(t)
	proc := tracker.Processor()

	resp, body := get(t, ts.URL+"/ADA/recent.json")
	assertJSONError(t, resp, body)

	points := []series.Point{{Time: now, Price: 0.75, Volume: 100}}
	require.NoError(t, series.WriteFile(proc.RecentPath(), points))
	require.NoError(t, series.WriteFile(proc.DailyPath("2025-07-18"), points))

	resp, body = get(t, ts.URL+"/ADA/recent.json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, `"time": "2025-07-18T10:00:00+00:00"`)

	_, shortcut := get(t, ts.URL+"/recent.json")
	assert.Equal(t, body, shortcut)

	resp, _ = get(t, ts.URL+"/ADA/daily/2025-07-18.json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = get(t, ts.URL+"/ADA/daily/2025-07-19.json")
	assertJSONError(t, resp, body)
	resp, body = get(t, ts.URL+"/ADA/daily/latest.json")
	assertJSONError(t, resp, body)
	resp, body = get(t, ts.URL+"/ADA/historical.json")
	assertJSONError(t, resp, body)
}

func TestServer_CSVFiles(t *testing.T) {
	ts, tracker := newTestServer(t)

	resp, body := get(t, ts.URL+"/ADA/data.csv")
	assertJSONError(t, resp, body)

	require.NoError(t, tracker.Tick(context.Background()))

	resp, body = get(t, ts.URL+"/ADA/data.csv")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "timestamp,asset,exchange,"))

	resp, body = get(t, ts.URL+"/ADA/csv-list")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Symbol string     `json:"symbol"`
		Files  []FileInfo `json:"files"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list.Files, 1)
	assert.Equal(t, "2025-07-18_08.csv", list.Files[0].Name)
	assert.Positive(t, list.Files[0].Size)

	resp, _ = get(t, ts.URL+"/ADA/csv/2025-07-18_08.csv")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = get(t, ts.URL+"/ADA/csv/notes.txt")
	assertJSONError(t, resp, body)
	resp, body = get(t, ts.URL+"/ADA/csv/2025-07-18_16.csv")
	assertJSONError(t, resp, body)
}

func TestServer_CORSAndFallbacks(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/ADA/recent.json", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	r, body := get(t, ts.URL+"/a/b/c/d")
	assertJSONError(t, r, body)

	r, _ = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.Contains(t, r.Header.Get("Content-Type"), "text/plain")
}
