package partition

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gcagle911/ADA-logger/internal/feed"
)

const timestampLayout = "2006-01-02T15:04:05.000000-07:00"

// Store appends samples of one asset into block-partitioned CSV files
type Store struct {
	dir         string
	blockHours  int
	depthLevels int
	logger      *slog.Logger

	mu      sync.Mutex
	checked map[string]bool
}

// NewStore creates a store rooted at dir, creating the directory if needed
func NewStore(dir string, blockHours, depthLevels int, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create partition directory: %w", err)
	}
	if blockHours <= 0 {
		blockHours = 8
	}
	if depthLevels <= 0 {
		depthLevels = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:         dir,
		blockHours:  blockHours,
		depthLevels: depthLevels,
		logger:      logger,
		checked:     make(map[string]bool),
	}, nil
}

// Dir returns the partition directory
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute location of a partition file name
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// KeyFor returns the partition key of a timestamp under this store's block width
func (s *Store) KeyFor(t time.Time) Key { return KeyFor(t, s.blockHours) }

// Header returns the CSV header row written on first append
func (s *Store) Header() []string {
	l := strconv.Itoa(s.depthLevels)
	return []string{
		"timestamp", "asset", "exchange", "price", "bid", "ask", "spread", "volume",
		"spread_avg_L" + l, "spread_avg_L" + l + "_pct",
	}
}

// Append writes one sample to the partition its timestamp maps to and
// returns that partition's file name. The header is written only when the
// file is empty, and header plus row go out in a single write.
func (s *Store) Append(sample feed.Sample) (string, error) {
	if err := sample.Validate(); err != nil {
		return "", err
	}

	name := s.KeyFor(sample.Timestamp).FileName()
	path := s.Path(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checked[path] {
		if err := repairTornTail(path); err != nil {
			return "", fmt.Errorf("failed to check partition %s: %w", name, err)
		}
		s.checked[path] = true
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open partition: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat partition: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if info.Size() == 0 {
		w.Write(s.Header())
	}
	w.Write(encodeRow(sample))
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to encode row: %w", err)
	}

	if _, err := file.Write(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to write row: %w", err)
	}
	return name, nil
}

func encodeRow(s feed.Sample) []string {
	return []string{
		s.Timestamp.UTC().Format(timestampLayout),
		s.Asset,
		s.Exchange,
		formatFloat(s.Price),
		formatFloat(s.Bid),
		formatFloat(s.Ask),
		formatFloat(s.Spread),
		formatFloat(s.Volume),
		formatFloat(s.SpreadAvg),
		formatFloat(s.SpreadAvgPct),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// repairTornTail truncates a trailing partial row left by a crash mid-write
func repairTornTail(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := file.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	// Walk back to the last complete line
	const chunk = 4096
	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		buf := make([]byte, end-start)
		if _, err := file.ReadAt(buf, start); err != nil && err != io.EOF {
			return err
		}
		if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
			return file.Truncate(start + int64(i) + 1)
		}
		end = start
	}
	return file.Truncate(0)
}

// Files lists the partition file names in chronological order
func (s *Store) Files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := ParseFileName(e.Name()); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Load parses one partition strictly. Any malformed row fails the whole
// partition. A trailing line without a newline is an in-flight append and is
// ignored.
func (s *Store) Load(name string) ([]feed.Sample, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read partition %s: %w", name, err)
	}
	return Decode(data)
}

// Decode parses partition file content
func Decode(data []byte) ([]feed.Sample, error) {
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else {
		data = nil
	}
	if len(data) == 0 {
		return nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols, depth, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var samples []feed.Sample
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		sample, err := decodeRow(record, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		sample.DepthLevels = depth
		samples = append(samples, sample)
	}
	return samples, nil
}

type columns struct {
	timestamp, asset, exchange      int
	price, bid, ask, spread, volume int
	spreadAvg, spreadAvgPct         int
}

func mapColumns(header []string) (columns, int, error) {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.TrimSpace(col)] = i
	}
	cols := columns{asset: -1, exchange: -1, spreadAvg: -1, spreadAvgPct: -1}
	depth := 0
	for col, i := range idx {
		if !strings.HasPrefix(col, "spread_avg_L") {
			continue
		}
		rest := strings.TrimPrefix(col, "spread_avg_L")
		if n, ok := strings.CutSuffix(rest, "_pct"); ok {
			cols.spreadAvgPct = i
			depth, _ = strconv.Atoi(n)
		} else {
			cols.spreadAvg = i
		}
	}
	if cols.spreadAvg < 0 || cols.spreadAvgPct < 0 {
		return columns{}, 0, fmt.Errorf("missing spread_avg_L columns in header")
	}

	required := map[string]*int{
		"timestamp": &cols.timestamp,
		"price":     &cols.price,
		"bid":       &cols.bid,
		"ask":       &cols.ask,
		"spread":    &cols.spread,
		"volume":    &cols.volume,
	}
	for name, dst := range required {
		i, ok := idx[name]
		if !ok {
			return columns{}, 0, fmt.Errorf("missing column %q in header", name)
		}
		*dst = i
	}
	if i, ok := idx["asset"]; ok {
		cols.asset = i
	}
	if i, ok := idx["exchange"]; ok {
		cols.exchange = i
	}
	return cols, depth, nil
}

func decodeRow(record []string, cols columns) (feed.Sample, error) {
	var s feed.Sample
	ts, err := time.Parse(time.RFC3339Nano, record[cols.timestamp])
	if err != nil {
		return s, fmt.Errorf("bad timestamp %q: %w", record[cols.timestamp], err)
	}
	s.Timestamp = ts.UTC()
	if cols.asset >= 0 {
		s.Asset = record[cols.asset]
	}
	if cols.exchange >= 0 {
		s.Exchange = record[cols.exchange]
	}

	fields := []struct {
		col int
		dst *float64
	}{
		{cols.price, &s.Price},
		{cols.bid, &s.Bid},
		{cols.ask, &s.Ask},
		{cols.spread, &s.Spread},
		{cols.volume, &s.Volume},
		{cols.spreadAvg, &s.SpreadAvg},
		{cols.spreadAvgPct, &s.SpreadAvgPct},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[f.col]), 64)
		if err != nil {
			return s, fmt.Errorf("bad number %q: %w", record[f.col], err)
		}
		*f.dst = v
	}
	return s, nil
}

// Sweep deletes partitions whose modification time is older than maxAge.
// A zero maxAge disables the sweep.
func (s *Store) Sweep(maxAge time.Duration, now time.Time) ([]string, error) {
	if maxAge <= 0 {
		return nil, nil
	}
	names, err := s.Files()
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-maxAge)

	var removed []string
	for _, name := range names {
		info, err := os.Stat(s.Path(name))
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(s.Path(name)); err != nil {
			s.logger.Warn("failed to remove expired partition", "file", name, "err", err)
			continue
		}
		s.mu.Lock()
		delete(s.checked, s.Path(name))
		s.mu.Unlock()
		removed = append(removed, name)
	}
	return removed, nil
}
