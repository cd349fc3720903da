// Package httpapi serves the realtime control API over chi.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/routesim/routesim/internal/auth"
	"github.com/routesim/routesim/internal/runner"
	"github.com/routesim/routesim/sim/cluster"
	"github.com/routesim/routesim/sim/workload"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires optional collaborators. Nil fields disable the feature:
// no Verifier leaves write routes open, no Limiter disables throttling.
type Options struct {
	Verifier *auth.Verifier
	Limiter  *rate.Limiter
	Stream   http.Handler
	Metrics  http.Handler
	Store    Pinger
}

// Server exposes a Runner over HTTP.
type Server struct {
	runner *runner.Runner
	opts   Options
}

// New returns a Server for r. The runner must already be built; Run is the
// caller's job.
func New(r *runner.Runner, opts Options) *Server {
	return &Server{runner: r, opts: opts}
}

// Router builds the chi route tree. Write routes sit behind the verifier and
// the limiter when those are configured.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// the websocket stream is long-lived; keep it outside the timeout
		if s.opts.Stream != nil {
			r.Method(http.MethodGet, "/stream", s.opts.Stream)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/status", s.handleStatus)
			r.Get("/snapshot", s.handleSnapshot)

			r.Group(func(r chi.Router) {
				if s.opts.Verifier != nil {
					r.Use(s.opts.Verifier.Middleware)
				}
				if s.opts.Limiter != nil {
					r.Use(s.rateLimit)
				}
				r.Post("/commands", s.handleCommands)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
			})
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":     true,
		"time":   time.Now().UTC(),
		"run_id": s.runner.RunID(),
		"paused": s.runner.Paused(),
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.Ping(ctx); err != nil {
			status["ok"] = false
			status["db"] = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	data, err := cluster.EncodeSnapshot(s.runner.Snapshot(), format)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	contentType := "application/json"
	if format == "yaml" {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type commandsRequest struct {
	Commands     []cluster.Command      `json:"commands"`
	Rate         *float64               `json:"rate,omitempty"`
	Distribution *workload.Distribution `json:"distribution,omitempty"`
}

type commandsResponse struct {
	Queued int `json:"queued"`
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	var req commandsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Commands) == 0 && req.Rate == nil && req.Distribution == nil {
		respondError(w, http.StatusBadRequest, "nothing to apply")
		return
	}
	queued, err := s.runner.Apply(runner.Update{
		Commands:     req.Commands,
		Rate:         req.Rate,
		Distribution: req.Distribution,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, runner.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		respondError(w, status, err.Error())
		return
	}
	if claims, ok := auth.FromContext(r.Context()); ok {
		logrus.Debugf("commands from %s: %d queued", claims.Subject, queued)
	}
	respondJSON(w, http.StatusAccepted, commandsResponse{Queued: queued})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.runner.Pause()
	respondJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.runner.Resume()
	respondJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.opts.Limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
