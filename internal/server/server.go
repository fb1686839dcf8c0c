package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gcagle911/ADA-logger/internal/observability"
	"github.com/gcagle911/ADA-logger/internal/scheduler"
)

// Server is the read-only HTTP surface over the per-asset files
type Server struct {
	addr     string
	registry *scheduler.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
	srv      *http.Server
}

// New creates a server for the trackers in registry
func New(addr string, registry *scheduler.Registry, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		logger:   logger.With("component", "http"),
		now:      time.Now,
	}
}

// Handler returns the routed handler wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("GET /status", s.handleStatusAll)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// default asset shortcuts
	mux.HandleFunc("GET /recent.json", s.defaultFile(recentFile))
	mux.HandleFunc("GET /historical.json", s.defaultFile(historicalFile))
	mux.HandleFunc("GET /metadata.json", s.defaultFile(metadataFile))
	mux.HandleFunc("GET /index.json", s.defaultFile(indexFile))

	mux.HandleFunc("GET /{symbol}/status", s.handleStatus)
	mux.HandleFunc("GET /{symbol}/data.csv", s.handleCurrentCSV)
	mux.HandleFunc("GET /{symbol}/csv-list", s.handleCSVList)
	mux.HandleFunc("GET /{symbol}/csv/{file}", s.handleCSV)
	mux.HandleFunc("GET /{symbol}/recent.json", s.assetFile(recentFile))
	mux.HandleFunc("GET /{symbol}/historical.json", s.assetFile(historicalFile))
	mux.HandleFunc("GET /{symbol}/metadata.json", s.assetFile(metadataFile))
	mux.HandleFunc("GET /{symbol}/index.json", s.assetFile(indexFile))
	mux.HandleFunc("GET /{symbol}/daily/{file}", s.handleDaily)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return s.logRequests(cors(mux))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown failed", "err", err)
		}
	}()

	s.logger.Info("http server starting", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
