// Package ops serves the crawler's operational HTTP surface: health,
// Prometheus metrics, run history and signed flier assets.
package ops

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tappedai/event-crawler/internal/domain"
	apperr "github.com/tappedai/event-crawler/internal/errors"
	"github.com/tappedai/event-crawler/internal/http/response"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
	pingTimeout     = 2 * time.Second
)

// Pinger is a dependency whose health can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunLister lists a scraper's run records, newest first.
type RunLister interface {
	Runs(ctx context.Context, scraperID string, limit int) ([]*domain.RunRecord, error)
}

// TargetLister returns the configured targets.
type TargetLister interface {
	Targets() []domain.ScraperConfig
}

// Deps are the handlers' collaborators. Nil members disable their routes.
type Deps struct {
	Checks  map[string]Pinger
	Runs    RunLister
	Targets TargetLister
	Metrics http.Handler
	Assets  http.HandlerFunc
}

// Server holds the ops router.
type Server struct {
	deps   Deps
	router *chi.Mux
	logger *slog.Logger
}

// NewServer creates the ops router with all routes configured.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{deps: deps, router: chi.NewRouter(), logger: logger}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	if deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.Runs != nil {
		s.router.Get("/runs/{scraperID}", s.handleRuns)
	}
	if deps.Targets != nil {
		s.router.Get("/targets", s.handleTargets)
	}
	if deps.Assets != nil {
		s.router.Get("/assets/*", deps.Assets)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Components: make(map[string]ComponentHealth, len(s.deps.Checks))}

	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		start := time.Now()
		err := s.deps.Checks[name].Ping(ctx)
		cancel()

		c := ComponentHealth{Status: "healthy", Latency: time.Since(start).String()}
		if err != nil {
			c.Status = "unhealthy"
			c.Message = err.Error()
			resp.Status = "unhealthy"
		}
		resp.Components[name] = c
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp, s.logger)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.HandleError(w, apperr.Validationf("limit must be a positive integer, got %q", raw), s.logger)
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.deps.Runs.Runs(r.Context(), chi.URLParam(r, "scraperID"), limit)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	if runs == nil {
		runs = []*domain.RunRecord{}
	}
	response.Success(w, runs, s.logger)
}

func (s *Server) handleTargets(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, s.deps.Targets.Targets(), s.logger)
}
