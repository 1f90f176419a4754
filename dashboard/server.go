// Package dashboard provides the admin HTTP listener for ChallengeGate.
//
// It exposes:
//   - GET  /metrics             – Prometheus exposition
//   - GET  /healthz             – liveness probe
//   - GET  /api/metrics/stream  – SSE stream of resolution counters (1 s ticks)
//   - GET  /api/logs            – recent log entries (JSON, ?n= limits)
//   - GET  /api/logs/stream     – SSE stream of log entries
//   - GET  /api/config          – effective configuration (JSON)
//   - POST /api/config          – change the log level at runtime
//
// The listener is meant for operators only and should not be exposed next to
// the public gateway port.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/firasghr/ChallengeGate/config"
	"github.com/firasghr/ChallengeGate/logger"
	"github.com/firasghr/ChallengeGate/metrics"
)

// MetricsSnapshot is the JSON payload pushed to stream clients every tick.
type MetricsSnapshot struct {
	Timestamp  int64   `json:"timestamp"`
	Total      uint64  `json:"total"`
	Cookie     uint64  `json:"cookie"`
	Failed     uint64  `json:"failed"`
	RPS        float64 `json:"rps"`
	Goroutines int     `json:"goroutines"`
}

// ConfigUpdate is the body accepted by POST /api/config.
type ConfigUpdate struct {
	LogLevel string `json:"log_level"`
}

// Server provides the admin endpoints.
type Server struct {
	metrics *metrics.Metrics
	ring    *logger.Ring
	log     *logger.Logger

	cfgMu sync.RWMutex
	cfg   *config.Config

	metricsSubs  map[chan MetricsSnapshot]struct{}
	metricsSubMu sync.Mutex

	tick time.Duration
	mux  *http.ServeMux
}

// New creates a dashboard Server.  ring may be nil, in which case the log
// endpoints return nothing.
func New(m *metrics.Metrics, cfg *config.Config, log *logger.Logger, ring *logger.Ring) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		metrics:     m,
		ring:        ring,
		log:         log,
		cfg:         cfg,
		metricsSubs: make(map[chan MetricsSnapshot]struct{}),
		tick:        time.Second,
		mux:         http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the admin mux.
func (s *Server) Handler() http.Handler { return s.mux }

// Run pushes metrics snapshots to stream subscribers until ctx is done.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.snapshot()
			s.metricsSubMu.Lock()
			for ch := range s.metricsSubs {
				select {
				case ch <- snap:
				default:
				}
			}
			s.metricsSubMu.Unlock()
		}
	}
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/metrics/stream", s.withCORS(s.handleMetricsStream))
	s.mux.HandleFunc("/api/logs", s.withCORS(s.handleLogs))
	s.mux.HandleFunc("/api/logs/stream", s.withCORS(s.handleLogsStream))
	s.mux.HandleFunc("/api/config", s.withCORS(s.handleConfig))
}

func (s *Server) withCORS(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// ─── /api/metrics/stream ─────────────────────────────────────────────────────

func (s *Server) snapshot() MetricsSnapshot {
	total, cookie, failed := s.metrics.Snapshot()
	return MetricsSnapshot{
		Timestamp:  time.Now().UnixMilli(),
		Total:      total,
		Cookie:     cookie,
		Failed:     failed,
		RPS:        s.metrics.ResolutionsPerSecond(),
		Goroutines: runtime.NumGoroutine(),
	}
}

func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sseHeaders(w)

	ch := make(chan MetricsSnapshot, 16)
	s.metricsSubMu.Lock()
	s.metricsSubs[ch] = struct{}{}
	s.metricsSubMu.Unlock()
	defer func() {
		s.metricsSubMu.Lock()
		delete(s.metricsSubs, ch)
		s.metricsSubMu.Unlock()
	}()

	// First frame goes out immediately so clients need not wait a tick.
	if err := sseWrite(w, s.snapshot()); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			if err := sseWrite(w, snap); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ─── /api/logs ───────────────────────────────────────────────────────────────

const defaultLogHistory = 200

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogHistory
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	entries := []logger.Entry{}
	if s.ring != nil {
		entries = append(entries, s.ring.Recent(n)...)
	}
	writeJSON(w, entries)
}

func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sseHeaders(w)
	if s.ring == nil {
		flusher.Flush()
		<-r.Context().Done()
		return
	}

	// Subscribe before replaying history; an entry logged in between may be
	// sent twice.
	ch, unsubscribe := s.ring.Subscribe(256)
	defer unsubscribe()

	for _, entry := range s.ring.Recent(defaultLogHistory) {
		if err := sseWrite(w, entry); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-ch:
			if err := sseWrite(w, entry); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func sseWrite(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// ─── /api/config ─────────────────────────────────────────────────────────────

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.cfgMu.RLock()
		cfg := *s.cfg
		s.cfgMu.RUnlock()
		writeJSON(w, cfg)

	case http.MethodPost:
		var payload ConfigUpdate
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		level, err := logger.ParseLevel(payload.LogLevel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.SetLevel(level)
		s.cfgMu.Lock()
		s.cfg.LogLevel = payload.LogLevel
		s.cfgMu.Unlock()
		s.log.Info("log level changed via dashboard", "log_level", payload.LogLevel)
		writeJSON(w, map[string]any{"ok": true, "log_level": payload.LogLevel})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
