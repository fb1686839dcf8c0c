// Package series holds the aggregate chart series model, the merge used to
// reconcile recomputed series with persisted ones, and their JSON files.
package series

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the wire format of Point.Time, e.g. 2025-07-18T10:00:00+00:00
const TimeLayout = "2006-01-02T15:04:05-07:00"

// Point is one one-minute bucket of a chart series
type Point struct {
	Time      time.Time
	Price     float64
	Bid       float64
	Ask       float64
	Spread    float64
	SpreadPct float64
	Volume    float64
}

type pointJSON struct {
	Time      string  `json:"time"`
	Price     float64 `json:"price"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Spread    float64 `json:"spread"`
	SpreadPct float64 `json:"spread_pct"`
	Volume    float64 `json:"volume"`
}

// MarshalJSON writes the time in UTC with an explicit +00:00 offset
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointJSON{
		Time:      p.Time.UTC().Format(TimeLayout),
		Price:     p.Price,
		Bid:       p.Bid,
		Ask:       p.Ask,
		Spread:    p.Spread,
		SpreadPct: p.SpreadPct,
		Volume:    p.Volume,
	})
}

// UnmarshalJSON accepts any RFC 3339 time
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw pointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, raw.Time)
	if err != nil {
		return fmt.Errorf("bad point time %q: %w", raw.Time, err)
	}
	*p = Point{
		Time:      t.UTC(),
		Price:     raw.Price,
		Bid:       raw.Bid,
		Ask:       raw.Ask,
		Spread:    raw.Spread,
		SpreadPct: raw.SpreadPct,
		Volume:    raw.Volume,
	}
	return nil
}
