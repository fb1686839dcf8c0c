// Package server exposes the per-asset data files and status over HTTP.
package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gcagle911/ADA-logger/internal/aggregate"
	"github.com/gcagle911/ADA-logger/internal/mirror"
	"github.com/gcagle911/ADA-logger/internal/partition"
	"github.com/gcagle911/ADA-logger/internal/scheduler"
	"github.com/gcagle911/ADA-logger/internal/series"
)

type assetFileKind int

const (
	recentFile assetFileKind = iota
	historicalFile
	metadataFile
	indexFile
)

func (k assetFileKind) path(p *aggregate.Processor) string {
	switch k {
	case recentFile:
		return p.RecentPath()
	case historicalFile:
		return p.HistoricalPath()
	case metadataFile:
		return p.MetadataPath()
	default:
		return p.IndexPath()
	}
}

// AssetStatus is the status view of one tracker
type AssetStatus struct {
	Symbol      string      `json:"symbol"`
	Pair        string      `json:"pair"`
	Exchange    string      `json:"exchange"`
	LastLogged  string      `json:"last_logged,omitempty"`
	CurrentFile string      `json:"current_file"`
	Partitions  int         `json:"partitions"`
	LastSample  *SampleView `json:"last_sample,omitempty"`
}

// SampleView is the JSON view of a cached sample
type SampleView struct {
	Timestamp    string  `json:"timestamp"`
	Price        float64 `json:"price"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Spread       float64 `json:"spread"`
	Volume       float64 `json:"volume"`
	SpreadAvgPct float64 `json:"spread_avg_pct"`
}

// FileInfo describes one raw partition
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":       "ada-logger",
		"assets":        s.registry.Symbols(),
		"default_asset": s.registry.DefaultSymbol(),
		"time":          s.now().UTC().Format(series.TimeLayout),
		"endpoints": []string{
			"/status",
			"/healthz",
			"/metrics",
			"/recent.json",
			"/historical.json",
			"/metadata.json",
			"/index.json",
			"/{symbol}/status",
			"/{symbol}/data.csv",
			"/{symbol}/csv-list",
			"/{symbol}/csv/{file}",
			"/{symbol}/recent.json",
			"/{symbol}/historical.json",
			"/{symbol}/metadata.json",
			"/{symbol}/index.json",
			"/{symbol}/daily/{date}.json",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	assets := []AssetStatus{}
	for _, symbol := range s.registry.Symbols() {
		t, err := s.registry.Get(symbol)
		if err != nil {
			continue
		}
		assets = append(assets, s.status(r, t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default_asset": s.registry.DefaultSymbol(),
		"time":          s.now().UTC().Format(series.TimeLayout),
		"assets":        assets,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.status(r, t))
}

func (s *Server) status(r *http.Request, t *scheduler.Tracker) AssetStatus {
	asset := t.Asset()
	st := AssetStatus{
		Symbol:      t.Symbol(),
		Pair:        asset.Pair,
		Exchange:    asset.Exchange,
		CurrentFile: t.Store().KeyFor(s.now()).FileName(),
	}
	if last := t.LastLogged(); !last.IsZero() {
		st.LastLogged = last.UTC().Format(time.RFC3339Nano)
	}
	if names, err := t.Store().Files(); err == nil {
		st.Partitions = len(names)
	}
	if sample, err := t.LastSample(r.Context()); err == nil {
		st.LastSample = &SampleView{
			Timestamp:    sample.Timestamp.UTC().Format(time.RFC3339Nano),
			Price:        sample.Price,
			Bid:          sample.Bid,
			Ask:          sample.Ask,
			Spread:       sample.Spread,
			Volume:       sample.Volume,
			SpreadAvgPct: sample.SpreadAvgPct,
		}
	}
	return st
}

// handleCurrentCSV serves the newest raw partition
func (s *Server) handleCurrentCSV(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	names, err := t.Store().Files()
	if err != nil || len(names) == 0 {
		writeError(w, http.StatusNotFound, "no data yet")
		return
	}
	s.serveFile(w, r, t.Store().Path(names[len(names)-1]))
}

func (s *Server) handleCSVList(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	names, err := t.Store().Files()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	files := []FileInfo{}
	for _, name := range names {
		info, err := os.Stat(t.Store().Path(name))
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:     name,
			Size:     info.Size(),
			Modified: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": t.Symbol(),
		"files":  files,
	})
}

func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	name := r.PathValue("file")
	if _, err := partition.ParseFileName(name); err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	s.serveFile(w, r, t.Store().Path(name))
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	date, found := strings.CutSuffix(r.PathValue("file"), ".json")
	if !found {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	s.serveFile(w, r, t.Processor().DailyPath(date))
}

func (s *Server) assetFile(kind assetFileKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := s.tracker(w, r)
		if !ok {
			return
		}
		s.serveFile(w, r, kind.path(t.Processor()))
	}
}

func (s *Server) defaultFile(kind assetFileKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.registry.Default()
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.serveFile(w, r, kind.path(t.Processor()))
	}
}

func (s *Server) tracker(w http.ResponseWriter, r *http.Request) (*scheduler.Tracker, bool) {
	t, err := s.registry.Get(r.PathValue("symbol"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return t, true
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, filepath.Base(path)+" not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to open file", "file", path, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	w.Header().Set("Content-Type", mirror.ContentType(path))
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}
