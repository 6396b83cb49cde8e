package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
)

const defaultHistoryDays = 30

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// FactReader serves the query endpoints from the mart tables.
type FactReader interface {
	ListFacts(ctx context.Context, city, country string, days int) ([]domain.DailyFact, error)
	LatestFact(ctx context.Context, city, country string) (*domain.DailyFact, error)
	ListDimensions(ctx context.Context) ([]domain.EntityDimension, error)
}

// Server exposes health, readiness, metrics, and fact query HTTP endpoints.
type Server struct {
	httpServer *http.Server
	facts      FactReader
	logger     *slog.Logger
}

// NewServer creates an HTTP server with operational and /api/v1 query routes.
func NewServer(addr string, facts FactReader, ready ReadinessChecker, logger *slog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		facts:  facts,
		logger: logger,
	}

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", handleReady(ready)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/cities", s.handleListCities).Methods(http.MethodGet)
	api.HandleFunc("/cities/{city}/facts", s.handleFactHistory).Methods(http.MethodGet)
	api.HandleFunc("/cities/{city}/facts/latest", s.handleLatestFact).Methods(http.MethodGet)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleListCities(w http.ResponseWriter, r *http.Request) {
	dims, err := s.facts.ListDimensions(r.Context())
	if err != nil {
		s.logger.Error("list dimensions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if dims == nil {
		dims = []domain.EntityDimension{}
	}
	writeJSON(w, http.StatusOK, dims)
}

func (s *Server) handleFactHistory(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]
	country := r.URL.Query().Get("country")

	days := defaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 || d > 365 {
			writeError(w, http.StatusBadRequest, "days must be an integer between 1 and 365")
			return
		}
		days = d
	}

	facts, err := s.facts.ListFacts(r.Context(), city, country, days)
	if err != nil {
		s.logger.Error("list facts failed", "city", city, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(facts) == 0 {
		writeError(w, http.StatusNotFound, "city not found")
		return
	}
	writeJSON(w, http.StatusOK, facts)
}

func (s *Server) handleLatestFact(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]
	country := r.URL.Query().Get("country")

	fact, err := s.facts.LatestFact(r.Context(), city, country)
	if err != nil {
		s.logger.Error("latest fact failed", "city", city, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if fact == nil {
		writeError(w, http.StatusNotFound, "city not found")
		return
	}
	writeJSON(w, http.StatusOK, fact)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
