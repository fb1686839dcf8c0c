package aggregate

import (
	"time"

	"github.com/gcagle911/ADA-logger/internal/feed"
	"github.com/gcagle911/ADA-logger/internal/series"
)

// BucketWidth is the resampling interval of every aggregate series
const BucketWidth = time.Minute

type bucket struct {
	start     time.Time
	n         int
	last      feed.Sample
	spreadSum float64
	pctSum    float64
	volume    float64
}

func (b *bucket) add(start time.Time, s feed.Sample) {
	b.start = start
	b.n++
	b.last = s
	b.spreadSum += s.Spread
	b.pctSum += s.SpreadAvgPct
	b.volume += s.Volume
}

func (b *bucket) point() series.Point {
	return series.Point{
		Time:      b.start,
		Price:     b.last.Price,
		Bid:       b.last.Bid,
		Ask:       b.last.Ask,
		Spread:    b.spreadSum / float64(b.n),
		SpreadPct: b.pctSum / float64(b.n),
		Volume:    b.volume,
	}
}

// Resample groups samples sorted ascending by timestamp into one-minute
// points. Price, bid and ask take the last observation in the bucket; spread
// and spread_pct the mean; volume the sum. Empty buckets are dropped.
func Resample(samples []feed.Sample) []series.Point {
	var points []series.Point
	var acc bucket
	for _, s := range samples {
		start := s.Timestamp.UTC().Truncate(BucketWidth)
		if acc.n > 0 && !start.Equal(acc.start) {
			points = append(points, acc.point())
			acc = bucket{}
		}
		acc.add(start, s)
	}
	if acc.n > 0 {
		points = append(points, acc.point())
	}
	return points
}

// FillGaps inserts a point for every empty minute between the first and last
// point, carrying the previous prices and spreads forward with zero volume.
func FillGaps(points []series.Point) []series.Point {
	if len(points) < 2 {
		return points
	}
	span := int(points[len(points)-1].Time.Sub(points[0].Time)/BucketWidth) + 1
	filled := make([]series.Point, 0, span)

	prev := points[0]
	filled = append(filled, prev)
	for _, p := range points[1:] {
		for t := prev.Time.Add(BucketWidth); t.Before(p.Time); t = t.Add(BucketWidth) {
			gap := prev
			gap.Time = t
			gap.Volume = 0
			filled = append(filled, gap)
		}
		filled = append(filled, p)
		prev = p
	}
	return filled
}
