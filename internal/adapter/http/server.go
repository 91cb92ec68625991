package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/flood-skill-eval/internal/domain"
)

// ResultProvider exposes the most recent completed evaluation.
type ResultProvider interface {
	Latest() (*domain.Evaluation, bool)
}

// Server exposes health, readiness, metrics and result HTTP endpoints.
type Server struct {
	httpServer *http.Server
	results    ResultProvider
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, /sites,
// /counties and /coverage routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, results ResultProvider, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		results: results,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /sites", s.handleSites)
	mux.HandleFunc("GET /counties", s.handleCounties)
	mux.HandleFunc("GET /coverage", s.handleCoverage)

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

type sitesResponse struct {
	EvaluatedAt time.Time                 `json:"evaluated_at"`
	Sites       []domain.ContingencyTable `json:"sites"`
}

type countiesResponse struct {
	EvaluatedAt time.Time            `json:"evaluated_at"`
	Counties    []domain.CountyScore `json:"counties"`
}

type coverageResponse struct {
	EvaluatedAt time.Time       `json:"evaluated_at"`
	Coverage    domain.Coverage `json:"coverage"`
}

// handleSites lists per-site contingency tables, optionally filtered by the
// site_id query parameter.
func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.latest(w)
	if !ok {
		return
	}
	sites := ev.Sites
	if id := r.URL.Query().Get("site_id"); id != "" {
		sites = filter(sites, func(t domain.ContingencyTable) bool { return t.SiteID == id })
	}
	sharedobs.WriteJSON(w, http.StatusOK, sitesResponse{EvaluatedAt: ev.EvaluatedAt, Sites: sites})
}

// handleCounties lists county scores, optionally filtered by the state query
// parameter (two-letter abbreviation).
func (s *Server) handleCounties(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.latest(w)
	if !ok {
		return
	}
	counties := ev.Counties
	if state := r.URL.Query().Get("state"); state != "" {
		counties = filter(counties, func(c domain.CountyScore) bool {
			return strings.EqualFold(c.StateAbbreviation, state)
		})
	}
	sharedobs.WriteJSON(w, http.StatusOK, countiesResponse{EvaluatedAt: ev.EvaluatedAt, Counties: counties})
}

func (s *Server) handleCoverage(w http.ResponseWriter, _ *http.Request) {
	ev, ok := s.latest(w)
	if !ok {
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, coverageResponse{EvaluatedAt: ev.EvaluatedAt, Coverage: ev.Coverage})
}

func (s *Server) latest(w http.ResponseWriter) (*domain.Evaluation, bool) {
	ev, ok := s.results.Latest()
	if !ok {
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "no evaluation has completed yet",
		})
		return nil, false
	}
	return ev, true
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
