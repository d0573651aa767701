// Package api exposes the fused sensor state over HTTP.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/fusion"
	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/serialmux"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	store *fusion.Store
	m     serialmux.SerialMuxInterface
	db    *db.DB
	cfg   *config.TuningConfig
}

// NewServer wires the API over the fused state store. db may be nil when the
// observation log is disabled.
func NewServer(store *fusion.Store, m serialmux.SerialMuxInterface, db *db.DB, cfg *config.TuningConfig) *Server {
	return &Server{
		store: store,
		m:     m,
		db:    db,
		cfg:   cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/data", s.showData)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/readings", s.listReadings)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	return mux
}

func (s *Server) showData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.store.Snapshot())
}

type statsResponse struct {
	fusion.Stats
	RecordedReadings int64 `json:"recorded_readings"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	resp := statsResponse{Stats: s.store.StatsSnapshot()}
	if s.db != nil {
		count, err := s.db.ReadingCount()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to count readings: %v", err))
			return
		}
		resp.RecordedReadings = count
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "observation log disabled")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	readings, err := s.db.RecentReadings(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve readings: %v", err))
		return
	}
	if readings == nil {
		readings = []db.Reading{}
	}
	httputil.WriteJSONOK(w, readings)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"debounce_window":       s.cfg.GetDebounceWindow(),
		"presence_timeout":      s.cfg.GetPresenceTimeout().String(),
		"confidence_threshold":  s.cfg.GetConfidenceThreshold(),
		"min_valid_distance":    s.cfg.GetMinValidDistance(),
		"co2_history_size":      s.cfg.GetCO2HistorySize(),
		"presence_history_size": s.cfg.GetPresenceHistorySize(),
		"distance_history_size": s.cfg.GetDistanceHistorySize(),
		"raw_distance_window":   s.cfg.GetRawDistanceWindow(),
		"min_fields":            s.cfg.GetMinFields(),
		"presence_true_tokens":  s.cfg.GetPresenceTrueTokens(),
	})
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		httputil.BadRequest(w, "missing 'command' parameter")
		return
	}

	if err := s.m.SendCommand(command); err != nil {
		httputil.InternalServerError(w, "failed to send command")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "sent", "command": command})
}
