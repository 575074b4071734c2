package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/projectmitra/mitra-assist/internal/normalize"
	"github.com/projectmitra/mitra-assist/internal/prompt"
	"github.com/projectmitra/mitra-assist/internal/provider"
	"github.com/projectmitra/mitra-assist/internal/render"
	"github.com/projectmitra/mitra-assist/internal/router"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 64 << 10

// handleRoot is the plain-text banner uptime checks already poll.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "mitra-assist is up and running.")
}

// handleHealth is a liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatbotRequest struct {
	Message string `json:"message"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// handleChatbot handles POST /chatbot.
func (s *Server) handleChatbot(w http.ResponseWriter, r *http.Request) {
	var body chatbotRequest
	if !decode(w, r, &body) || strings.TrimSpace(body.Message) == "" {
		render.Error(w, http.StatusBadRequest, "message required")
		return
	}

	res, ok := s.complete(w, r, provider.TaskChat, body.Message)
	if !ok {
		return
	}
	render.Chat(w, res)
}

// handleGenerate handles POST /generate.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if !decode(w, r, &body) || strings.TrimSpace(body.Prompt) == "" {
		render.Error(w, http.StatusBadRequest, "prompt required")
		return
	}

	res, ok := s.complete(w, r, provider.TaskCodeGen, body.Prompt)
	if !ok {
		return
	}
	render.Generate(w, res)
}

// decode reads a size-limited JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v) == nil
}

// complete builds the prompt, consults the cache and runs the router. When
// it returns false an error response has already been written.
func (s *Server) complete(w http.ResponseWriter, r *http.Request, kind provider.TaskKind, raw string) (normalize.Result, bool) {
	// A started request runs to success or exhaustion even if the caller
	// goes away; the upstream client timeout still bounds each attempt.
	ctx := context.WithoutCancel(r.Context())

	req := &provider.Request{
		Prompt: prompt.Build(raw, kind),
		Kind:   kind,
		Origin: r.Header.Get("Origin"),
	}

	if res, ok := s.cacheGet(ctx, req); ok {
		return res, true
	}

	res, err := s.deps.Router.Route(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("task", kind.String()).Msg("route failed")
		msg := "internal error"
		if errors.Is(err, router.ErrMissingCredentials) {
			msg = "service is not configured"
		}
		render.Error(w, http.StatusInternalServerError, msg)
		return normalize.Result{}, false
	}

	s.cacheSet(ctx, req, res)
	return res, true
}

func (s *Server) cacheGet(ctx context.Context, req *provider.Request) (normalize.Result, bool) {
	if s.deps.Cache == nil {
		return normalize.Result{}, false
	}

	res, ok, err := s.deps.Cache.Get(ctx, req.Kind, req.Prompt)
	label := "miss"
	switch {
	case err != nil:
		label = "error"
		s.logger.Warn().Err(err).Msg("cache lookup failed")
	case ok:
		label = "hit"
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.CacheLookups.WithLabelValues(label).Inc()
	}
	return res, ok
}

func (s *Server) cacheSet(ctx context.Context, req *provider.Request, res normalize.Result) {
	if s.deps.Cache == nil || res.Failed() {
		return
	}
	if err := s.deps.Cache.Set(ctx, req.Kind, req.Prompt, res); err != nil {
		s.logger.Warn().Err(err).Msg("cache store failed")
	}
}
