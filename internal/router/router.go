// Package router runs the ordered model fallback for one completion
// request.
//
// Route walks the configured model list front to back, one attempt at a
// time, and stops at the first model that returns any text. That text is
// normalized and returned. If every model fails the caller gets an
// all-failed result; which models failed and why is only logged.
package router

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/projectmitra/mitra-assist/internal/metrics"
	"github.com/projectmitra/mitra-assist/internal/normalize"
	"github.com/projectmitra/mitra-assist/internal/provider"
)

// ErrMissingCredentials means the router was built without an API key.
// It's a configuration problem, not a provider failure, so Route reports it
// before touching the network.
var ErrMissingCredentials = errors.New("router: upstream credentials are missing")

// Config is everything the router reads. It's copied at construction and
// never changed afterwards, so concurrent Route calls share it safely.
type Config struct {
	// Models is the fallback order. Earlier entries are preferred.
	Models []string

	Credentials provider.Credentials
}

// Router is safe for concurrent use.
type Router struct {
	models  []string
	creds   provider.Credentials
	client  provider.Attempter
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option customizes a Router.
type Option func(*Router)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.logger = l.With().Str("component", "router").Logger() }
}

// WithMetrics records per-attempt and per-route metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithTracer sets the tracer used for route and attempt spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// New builds a Router that sends attempts through client.
func New(cfg Config, client provider.Attempter, opts ...Option) *Router {
	r := &Router{
		models: slices.Clone(cfg.Models),
		creds:  cfg.Credentials,
		client: client,
		logger: zerolog.Nop(),
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Models returns a copy of the fallback order.
func (r *Router) Models() []string {
	return slices.Clone(r.models)
}

// Route runs the fallback loop for req.
//
// The only error is ErrMissingCredentials. Every provider failure is
// absorbed; if nothing succeeds the result is normalize.AllFailed() with a
// nil error. On success Result.Model names the model that answered.
func (r *Router) Route(ctx context.Context, req *provider.Request) (normalize.Result, error) {
	if r.creds.Empty() {
		return normalize.AllFailed(), ErrMissingCredentials
	}

	routeID := uuid.NewString()
	log := r.logger.With().Str("route_id", routeID).Str("task", req.Kind.String()).Logger()

	ctx, span := r.tracer.Start(ctx, "router.Route", trace.WithAttributes(
		attribute.String("mitra.route_id", routeID),
		attribute.String("mitra.task", req.Kind.String()),
		attribute.Int("mitra.models", len(r.models)),
	))
	defer span.End()

	f := newFallback(r.models)
	for f.state == stateTrying {
		f.observe(r.attempt(ctx, f.current(), req))
	}

	var result normalize.Result
	switch f.state {
	case stateSucceeded:
		result = normalize.Normalize(f.winner.Text, req.Kind)
		result.Model = f.winner.Model
		span.SetAttributes(attribute.String("mitra.model", result.Model))
		log.Info().
			Str("model", result.Model).
			Str("shape", result.Kind.String()).
			Int("attempts", f.attempts).
			Msg("route succeeded")
	default:
		result = normalize.AllFailed()
		span.SetStatus(codes.Error, "all models failed")
		log.Error().
			Int("attempts", f.attempts).
			Msg("route exhausted every model")
	}

	span.SetAttributes(
		attribute.Int("mitra.attempts", f.attempts),
		attribute.String("mitra.result", result.Kind.String()),
	)
	if r.metrics != nil {
		r.metrics.Routes.WithLabelValues(req.Kind.String(), result.Kind.String()).Inc()
	}
	return result, nil
}

// attempt wraps one client call in a span and records its metrics.
func (r *Router) attempt(ctx context.Context, model string, req *provider.Request) provider.Outcome {
	ctx, span := r.tracer.Start(ctx, "provider.Attempt", trace.WithAttributes(
		attribute.String("mitra.model", model),
	))
	defer span.End()

	start := time.Now()
	out := r.client.Attempt(ctx, model, req, r.creds)

	span.SetAttributes(attribute.String("mitra.outcome", out.Label()))
	if !out.OK() {
		span.SetStatus(codes.Error, out.Failure.Error())
		if out.Failure.Status != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", out.Failure.Status))
		}
	}
	if r.metrics != nil {
		r.metrics.UpstreamAttempts.WithLabelValues(model, out.Label()).Inc()
		r.metrics.UpstreamDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	}
	return out
}
