package feed

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidSample is returned for samples that must not be persisted.
var ErrInvalidSample = errors.New("invalid sample")

// Sample is one order book observation for one tracked asset
type Sample struct {
	Timestamp    time.Time
	Asset        string
	Exchange     string
	Price        float64
	Bid          float64
	Ask          float64
	Spread       float64
	Volume       float64
	SpreadAvg    float64
	SpreadAvgPct float64
	// DepthLevels is the L the spread average was taken over
	DepthLevels int
}

// Validate checks the invariants every persisted sample holds
func (s Sample) Validate() error {
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	}
	if s.Asset == "" {
		return fmt.Errorf("%w: missing asset", ErrInvalidSample)
	}
	fields := map[string]float64{
		"price":          s.Price,
		"bid":            s.Bid,
		"ask":            s.Ask,
		"spread":         s.Spread,
		"volume":         s.Volume,
		"spread_avg":     s.SpreadAvg,
		"spread_avg_pct": s.SpreadAvgPct,
	}
	for name, v := range fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidSample, name)
		}
	}
	if s.Price <= 0 || s.Bid <= 0 || s.Ask <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrInvalidSample)
	}
	if s.Volume < 0 {
		return fmt.Errorf("%w: negative volume", ErrInvalidSample)
	}
	return nil
}

// bookResponse is the level-2 book payload; each level is [price, size, ...]
type bookResponse struct {
	Bids [][]any `json:"bids"`
	Asks [][]any `json:"asks"`
}
