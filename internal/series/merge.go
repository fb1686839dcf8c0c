package series

import (
	"sort"
	"time"
)

// Merge reconciles a previously persisted series with a fresh computation.
// Points are keyed by time; on a collision the fresh point wins. The result
// is sorted ascending and, when limit > 0, truncated to the most recent
// limit points. Neither input is modified.
func Merge(existing, fresh []Point, limit int) []Point {
	byTime := make(map[int64]Point, len(existing)+len(fresh))
	for _, p := range existing {
		byTime[p.Time.UnixNano()] = p
	}
	for _, p := range fresh {
		byTime[p.Time.UnixNano()] = p
	}

	merged := make([]Point, 0, len(byTime))
	for _, p := range byTime {
		p.Time = p.Time.UTC()
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time.Before(merged[j].Time) })

	return Tail(merged, limit)
}

// Tail keeps the most recent limit points of an ascending series
func Tail(points []Point, limit int) []Point {
	if limit > 0 && len(points) > limit {
		return points[len(points)-limit:]
	}
	return points
}

// Since returns the points at or after cutoff of an ascending series
func Since(points []Point, cutoff time.Time) []Point {
	i := sort.Search(len(points), func(i int) bool { return !points[i].Time.Before(cutoff) })
	return points[i:]
}
