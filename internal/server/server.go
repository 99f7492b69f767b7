// Package server exposes the pipeline over HTTP so other services can
// trigger collect and enrich runs.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/suphelp/geo-cli/internal/model"
	"github.com/suphelp/geo-cli/internal/pipeline"
)

// Runner executes runs. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, in pipeline.RunInput) (*model.RunSummary, error)
	EnrichStored(ctx context.Context, limit int, locationQualifier string) (*model.RunSummary, error)
}

// RunSpec tells a RunnerFactory what the run will do.
type RunSpec struct {
	// Collect is set for search runs, which need the places provider.
	// Otherwise the run only enriches stored places.
	Collect bool
	// Enrich asks for an enricher that performs lookups.
	Enrich bool
}

// RunnerFactory builds a fresh Runner per run so no HTTP session is shared
// between runs.
type RunnerFactory func(spec RunSpec) (Runner, error)

// PlaceLister reads stored places.
type PlaceLister interface {
	ListPlaces(ctx context.Context, limit int) ([]model.PlaceRecord, error)
}

// Options configures a Server.
type Options struct {
	DefaultCity     string
	DefaultCategory string
	DefaultKeywords []string
	AllowedOrigins  []string
	// RunTimeout bounds a single run; zero means no bound.
	RunTimeout time.Duration
}

// Server handles the HTTP trigger API.
type Server struct {
	newRunner RunnerFactory
	places    PlaceLister
	opts      Options
	runs      singleflight.Group
}

// New creates a Server. places may be nil when no store is configured.
func New(newRunner RunnerFactory, places PlaceLister, opts Options) *Server {
	return &Server{newRunner: newRunner, places: places, opts: opts}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Post("/collect", s.handleCollect)
		r.Post("/enrich", s.handleEnrich)
		r.Get("/places", s.handlePlaces)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CollectRequest is the body of POST /api/collect.
type CollectRequest struct {
	City     string   `json:"city"`
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
	Enrich   bool     `json:"enrich"`
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req CollectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req = s.withDefaults(req)
	if len(req.Keywords) == 0 {
		writeError(w, http.StatusBadRequest, "keywords are required")
		return
	}
	if req.City == "" {
		writeError(w, http.StatusBadRequest, "city is required")
		return
	}

	in := pipeline.RunInput{
		Keywords:          req.Keywords,
		LocationQualifier: req.City,
		Category:          req.Category,
		Enrich:            req.Enrich,
	}
	spec := RunSpec{Collect: true, Enrich: req.Enrich}
	s.runShared(w, r, "collect:"+collectKey(req), spec, func(ctx context.Context, runner Runner) (*model.RunSummary, error) {
		return runner.Run(ctx, in)
	})
}

// EnrichRequest is the body of POST /api/enrich.
type EnrichRequest struct {
	Limit int    `json:"limit"`
	City  string `json:"city"`
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req EnrichRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be >= 0")
		return
	}
	if req.City == "" {
		req.City = s.opts.DefaultCity
	}

	key := "enrich:" + strconv.Itoa(req.Limit) + "|" + req.City
	s.runShared(w, r, key, RunSpec{Enrich: true}, func(ctx context.Context, runner Runner) (*model.RunSummary, error) {
		return runner.EnrichStored(ctx, req.Limit, req.City)
	})
}

// runShared collapses identical concurrent requests into one run. The run
// is detached from the request so a dropped client does not cancel it for
// the others.
func (s *Server) runShared(w http.ResponseWriter, r *http.Request, key string, spec RunSpec, fn func(context.Context, Runner) (*model.RunSummary, error)) {
	log := zap.L().With(zap.String("request_id", middleware.GetReqID(r.Context())))

	v, err, shared := s.runs.Do(key, func() (any, error) {
		runner, err := s.newRunner(spec)
		if err != nil {
			return nil, err
		}
		ctx := context.WithoutCancel(r.Context())
		if s.opts.RunTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
			defer cancel()
		}
		summary, err := fn(ctx, runner)
		return summary, err
	})
	if shared {
		w.Header().Set("X-Run-Shared", "true")
	}

	summary, _ := v.(*model.RunSummary)
	if err != nil {
		log.Error("run failed", zap.String("key", key), zap.Error(err))
		if summary == nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, summary)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request) {
	if s.places == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	places, err := s.places.ListPlaces(r.Context(), limit)
	if err != nil {
		zap.L().Error("list places failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list places failed")
		return
	}
	if places == nil {
		places = []model.PlaceRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"places": places, "count": len(places)})
}

func (s *Server) withDefaults(req CollectRequest) CollectRequest {
	req.City = strings.TrimSpace(req.City)
	if req.City == "" {
		req.City = s.opts.DefaultCity
	}
	if req.Category == "" {
		req.Category = s.opts.DefaultCategory
	}
	var kws []string
	for _, k := range req.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			kws = append(kws, k)
		}
	}
	if len(kws) == 0 {
		kws = s.opts.DefaultKeywords
	}
	req.Keywords = kws
	return req
}

// collectKey identifies a collect request for de-duplication.
func collectKey(req CollectRequest) string {
	return strings.Join([]string{
		req.City,
		req.Category,
		strconv.FormatBool(req.Enrich),
		strings.Join(req.Keywords, "\x1f"),
	}, "|")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
