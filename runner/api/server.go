// Package api serves stored analysis results over HTTP and streams pipeline
// progress to WebSocket clients.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/analysis"
	"github.com/perf-cascade/runner/storage"
	"github.com/perf-cascade/runner/types"
)

// ResultStore is the read side of a result store
type ResultStore interface {
	Latest(ctx context.Context) (*types.AnalysisResult, error)
	Get(ctx context.Context, id string) (*types.AnalysisResult, error)
	List(ctx context.Context, filter storage.RunFilter) ([]storage.RunSummary, error)
	QueryMetrics(ctx context.Context, q storage.MetricQuery) ([]storage.MetricPoint, error)
}

// Options configures a Server
type Options struct {
	Addr        string
	Store       ResultStore
	Hub         *WSHub
	Metrics     http.Handler
	EvidenceDir string
	Trends      analysis.TrendConfig
}

// Server provides HTTP API endpoints for analysis results
type Server struct {
	opts       Options
	log        logrus.FieldLogger
	trends     *analysis.TrendAnalyzer
	httpServer *http.Server
}

const defaultListLimit = 50

// NewServer creates a new API server instance
func NewServer(opts Options, log logrus.FieldLogger) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("api server requires a result store")
	}
	return &Server{
		opts:   opts,
		log:    log.WithField("component", "api-server"),
		trends: analysis.NewTrendAnalyzer(opts.Store, opts.Trends, log),
	}, nil
}

// Start begins serving in the background. The listener error, if any, is
// delivered on the returned channel.
func (s *Server) Start() <-chan error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if s.opts.Hub != nil {
		s.opts.Hub.Run()
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.opts.Addr).Info("API server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server failed: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Stop gracefully shuts down the HTTP API server
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping API server")
	if s.opts.Hub != nil {
		s.opts.Hub.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server gracefully: %w", err)
	}
	return nil
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.enableCORS)
	router.Use(s.loggingMiddleware)
	router.Use(s.errorHandlingMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.opts.Metrics != nil {
		router.Handle("/metrics", s.opts.Metrics).Methods("GET")
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/results/latest", s.handleLatest).Methods("GET", "OPTIONS")
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET", "OPTIONS")
	api.HandleFunc("/runs/{runId}", s.handleGetRun).Methods("GET", "OPTIONS")
	api.HandleFunc("/scenarios/{scenario}/history", s.handleScenarioHistory).Methods("GET", "OPTIONS")
	api.HandleFunc("/scenarios/{scenario}/trend", s.handleScenarioTrend).Methods("GET", "OPTIONS")
	if s.opts.Hub != nil {
		api.Handle("/ws", s.opts.Hub)
	}

	if s.opts.EvidenceDir != "" {
		router.PathPrefix("/evidence/").Handler(
			http.StripPrefix("/evidence/", http.FileServer(http.Dir(s.opts.EvidenceDir))))
	}

	return router
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapper.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Debug("HTTP request processed")
	})
}

func (s *Server) errorHandlingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.WithField("error", err).Error("Panic in HTTP handler")
				s.writeErrorResponse(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status codes
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets the WebSocket upgrade pass through the logging wrapper
func (w *responseWriterWrapper) Hijack() (c net.Conn, rw *bufio.ReadWriter, err error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	}
	if s.opts.Hub != nil {
		status["websocket_clients"] = s.opts.Hub.ClientCount()
	}
	s.writeJSONResponse(w, http.StatusOK, status)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	result, err := s.opts.Store.Latest(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to load latest result")
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve latest result")
		return
	}
	if result == nil {
		s.writeErrorResponse(w, http.StatusNotFound, "No analysis results stored yet")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.RunFilter{
		Provenance: types.Provenance(q.Get("provenance")),
		Limit:      defaultListLimit,
	}

	if v := q.Get("status"); v != "" {
		var status types.Status
		if err := status.UnmarshalText([]byte(v)); err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = &status
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}

	var ok bool
	if filter.Limit, ok = positiveInt(q.Get("limit"), defaultListLimit); !ok {
		s.writeErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if filter.Offset, ok = positiveInt(q.Get("offset"), 0); !ok {
		s.writeErrorResponse(w, http.StatusBadRequest, "offset must be a positive integer")
		return
	}

	runs, err := s.opts.Store.List(r.Context(), filter)
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve runs")
		return
	}
	if runs == nil {
		runs = []storage.RunSummary{}
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"count":  len(runs),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	result, err := s.opts.Store.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			s.writeErrorResponse(w, http.StatusNotFound, "Run not found")
			return
		}
		s.log.WithError(err).WithField("run_id", runID).Error("Failed to get run")
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve run")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleScenarioHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := storage.MetricQuery{Scenario: mux.Vars(r)["scenario"]}

	var ok bool
	if query.Users, ok = positiveInt(q.Get("users"), 0); !ok {
		s.writeErrorResponse(w, http.StatusBadRequest, "users must be a positive integer")
		return
	}
	if query.Limit, ok = positiveInt(q.Get("limit"), 100); !ok {
		s.writeErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	points, err := s.opts.Store.QueryMetrics(r.Context(), query)
	if err != nil {
		s.log.WithError(err).Error("Failed to query scenario history")
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve scenario history")
		return
	}
	if points == nil {
		points = []storage.MetricPoint{}
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"scenario": query.Scenario,
		"points":   points,
		"count":    len(points),
	})
}

func (s *Server) handleScenarioTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := analysis.TrendRequest{
		Scenario: mux.Vars(r)["scenario"],
		Metric:   q.Get("metric"),
	}
	if req.Metric != "" && !analysis.ValidMetric(req.Metric) {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown metric %q", req.Metric))
		return
	}

	var ok bool
	if req.Users, ok = positiveInt(q.Get("users"), 0); !ok {
		s.writeErrorResponse(w, http.StatusBadRequest, "users must be a positive integer")
		return
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		req.Since = since
	}

	trend, err := s.trends.CalculateTrend(r.Context(), req)
	if errors.Is(err, analysis.ErrInsufficientData) {
		s.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		s.log.WithError(err).Error("Failed to calculate scenario trend")
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to calculate scenario trend")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, trend)
}

func positiveInt(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Error("Failed to encode JSON response")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSONResponse(w, statusCode, map[string]interface{}{
		"error":   true,
		"message": message,
		"status":  statusCode,
	})
}
