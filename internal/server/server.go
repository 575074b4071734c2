// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/projectmitra/mitra-assist/internal/logging"
	"github.com/projectmitra/mitra-assist/internal/metrics"
	"github.com/projectmitra/mitra-assist/internal/normalize"
	"github.com/projectmitra/mitra-assist/internal/provider"
)

// Completer runs a completion request through the model fallback.
// *router.Router satisfies it.
type Completer interface {
	Route(ctx context.Context, req *provider.Request) (normalize.Result, error)
}

// ResultCache is an optional lookaside cache for normalized results.
// *cache.Redis satisfies it.
type ResultCache interface {
	Get(ctx context.Context, kind provider.TaskKind, prompt string) (normalize.Result, bool, error)
	Set(ctx context.Context, kind provider.TaskKind, prompt string, res normalize.Result) error
}

// Deps are the collaborators handlers need. Cache and Metrics may be nil.
type Deps struct {
	Router      Completer
	Cache       ResultCache
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	CORSOrigins []string
}

// Server holds the HTTP router and all dependencies that handlers need.
type Server struct {
	router chi.Router
	deps   Deps
	logger zerolog.Logger
}

// New creates a Server with routes and middleware wired up, ready to use
// as an http.Handler.
func New(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "http").Logger(),
	}
	s.routes()
	return s
}

// routes builds the chi router. Keeping every route in one place makes the
// surface easy to scan.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Post("/chatbot", s.handleChatbot)
	r.Post("/generate", s.handleGenerate)

	s.router = r
}

// ServeHTTP makes Server an http.Handler by delegating to chi.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
