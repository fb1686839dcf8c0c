package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrEmptyBook is returned when either side of the book has no levels.
var ErrEmptyBook = errors.New("empty orderbook data")

var hundred = decimal.NewFromInt(100)

// Fetcher polls one order book endpoint and normalizes it into a Sample
type Fetcher struct {
	url         string
	pair        string
	exchange    string
	depthLevels int
	timeout     time.Duration
	httpClient  *http.Client
	now         func() time.Time
}

// FetcherOptions configures a Fetcher
type FetcherOptions struct {
	URL         string
	Pair        string
	Exchange    string
	DepthLevels int
	Timeout     time.Duration
	HTTPClient  *http.Client
	Now         func() time.Time
}

// NewFetcher creates a new order book fetcher
func NewFetcher(opts FetcherOptions) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	depth := opts.DepthLevels
	if depth <= 0 {
		depth = 20
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Fetcher{
		url:         opts.URL,
		pair:        opts.Pair,
		exchange:    opts.Exchange,
		depthLevels: depth,
		timeout:     timeout,
		httpClient:  client,
		now:         now,
	}
}

// Fetch performs one bounded request and returns the normalized sample.
// It never retries; the caller's tick cadence absorbs transient failures.
func (f *Fetcher) Fetch(ctx context.Context) (Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ada-logger")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to fetch order book: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Sample{}, fmt.Errorf("order book returned status %d: %s", resp.StatusCode, string(body))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var book bookResponse
	if err := dec.Decode(&book); err != nil {
		return Sample{}, fmt.Errorf("failed to parse order book: %w", err)
	}

	bids, err := parseLevels(book.Bids)
	if err != nil {
		return Sample{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(book.Asks)
	if err != nil {
		return Sample{}, fmt.Errorf("asks: %w", err)
	}

	sample, err := Summarize(bids, asks, f.depthLevels)
	if err != nil {
		return Sample{}, err
	}
	sample.Timestamp = f.now().UTC()
	sample.Asset = f.pair
	sample.Exchange = f.exchange

	if err := sample.Validate(); err != nil {
		return Sample{}, err
	}
	return sample, nil
}

// Level is one price level of a book side
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Summarize computes the sample fields from the best-first book sides.
// When either side has fewer than depth levels the average spread falls back
// to the best bid/ask spread.
func Summarize(bids, asks []Level, depth int) (Sample, error) {
	if len(bids) == 0 || len(asks) == 0 {
		return Sample{}, ErrEmptyBook
	}

	bestBid := bids[0].Price
	bestAsk := asks[0].Price
	mid := bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	if !mid.IsPositive() {
		return Sample{}, fmt.Errorf("%w: non-positive mid price", ErrInvalidSample)
	}
	spread := bestAsk.Sub(bestBid)

	spreadAvg := spread
	if len(bids) >= depth && len(asks) >= depth {
		n := decimal.NewFromInt(int64(depth))
		bidAvg := sumPrices(bids[:depth]).Div(n)
		askAvg := sumPrices(asks[:depth]).Div(n)
		spreadAvg = askAvg.Sub(bidAvg)
	}
	spreadAvgPct := spreadAvg.Div(mid).Mul(hundred)

	volume := sumSizes(head(bids, depth)).Add(sumSizes(head(asks, depth)))

	return Sample{
		Price:        mid.InexactFloat64(),
		Bid:          bestBid.InexactFloat64(),
		Ask:          bestAsk.InexactFloat64(),
		Spread:       spread.InexactFloat64(),
		Volume:       volume.InexactFloat64(),
		SpreadAvg:    spreadAvg.InexactFloat64(),
		SpreadAvgPct: spreadAvgPct.InexactFloat64(),
		DepthLevels:  depth,
	}, nil
}

func head(levels []Level, n int) []Level {
	if len(levels) < n {
		return levels
	}
	return levels[:n]
}

func sumPrices(levels []Level) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Price)
	}
	return total
}

func sumSizes(levels []Level) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Size)
	}
	return total
}

func parseLevels(raw [][]any) ([]Level, error) {
	levels := make([]Level, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level %d: expected [price, size], got %d fields", i, len(entry))
		}
		price, err := toDecimal(entry[0])
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		size, err := toDecimal(entry[1])
		if err != nil {
			return nil, fmt.Errorf("level %d size: %w", i, err)
		}
		levels = append(levels, Level{Price: price, Size: size})
	}
	return levels, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case string:
		return decimal.NewFromString(x)
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unexpected value %v (%T)", v, v)
	}
}
