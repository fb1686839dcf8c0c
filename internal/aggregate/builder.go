// Package aggregate derives the chart series of one asset from its raw
// partitions and persists them next to the partitions.
package aggregate

import (
	"errors"
	"sort"
	"time"

	"github.com/gcagle911/ADA-logger/internal/feed"
	"github.com/gcagle911/ADA-logger/internal/series"
)

// ErrNoData is returned when no partition yields any sample
var ErrNoData = errors.New("no samples in partitions")

const dateLayout = "2006-01-02"

// Options bounds the derived series
type Options struct {
	RecentWindow  time.Duration
	RecentCap     int
	HistoricalCap int
}

// Result holds the series computed from one pass over the partitions
type Result struct {
	Samples    int
	First      time.Time
	Last       time.Time
	Assets     []string
	Exchanges  []string
	Historical []series.Point
	Recent     []series.Point
	Daily      map[string][]series.Point
}

// Dates returns the daily series dates in ascending order
func (r Result) Dates() []string {
	dates := make([]string, 0, len(r.Daily))
	for d := range r.Daily {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Build computes the historical, recent and daily series from samples
func Build(samples []feed.Sample, now time.Time, opts Options) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrNoData
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = 24 * time.Hour
	}

	sorted := make([]feed.Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	all := Resample(sorted)
	res := Result{
		Samples:   len(sorted),
		First:     sorted[0].Timestamp.UTC(),
		Last:      sorted[len(sorted)-1].Timestamp.UTC(),
		Assets:    distinct(sorted, func(s feed.Sample) string { return s.Asset }),
		Exchanges: distinct(sorted, func(s feed.Sample) string { return s.Exchange }),
		Daily:     make(map[string][]series.Point),
	}
	res.Historical = series.Tail(all, opts.HistoricalCap)
	res.Recent = series.Tail(series.Since(res.Historical, now.Add(-opts.RecentWindow)), opts.RecentCap)

	byDate := make(map[string][]series.Point)
	for _, p := range all {
		d := p.Time.Format(dateLayout)
		byDate[d] = append(byDate[d], p)
	}
	for d, points := range byDate {
		res.Daily[d] = FillGaps(points)
	}
	return res, nil
}

func distinct(samples []feed.Sample, field func(feed.Sample) string) []string {
	seen := make(map[string]bool)
	values := []string{}
	for _, s := range samples {
		v := field(s)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}
