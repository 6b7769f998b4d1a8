// Package web exposes the HTTP surface: task submission and status,
// plus scorer registry management.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rvikhe/crucible/internal/config"
	"github.com/rvikhe/crucible/internal/scheduler"
	"github.com/rvikhe/crucible/internal/scorer"
	"github.com/rvikhe/crucible/model"
)

type Server struct {
	router   chi.Router
	sched    *scheduler.Scheduler
	registry *scorer.Registry
	regCfg   *config.RegistryConfig
}

func NewServer(sched *scheduler.Scheduler, registry *scorer.Registry, regCfg *config.RegistryConfig) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		sched:    sched,
		registry: registry,
		regCfg:   regCfg,
	}
	s.routes()
	return s
}

// Expose the router for main.go
func (s *Server) Router() http.Handler {
	return otelhttp.NewHandler(s.router, "crucible")
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/task", s.handleSubmitTask)
	r.Get("/task/{id}", s.handleGetTask)
	r.Delete("/task/{id}", s.handleCancelTask)

	r.Get("/scorers", s.handleListScorers)
	r.Post("/scorers/load", s.handleLoadScorers)
	r.Post("/scorers/reload", s.handleReloadScorers)
	r.Post("/scorers/watch", s.handleWatchScorers)
	r.Delete("/scorers/watch", s.handleUnwatchScorers)
}

type taskRequest struct {
	Workspace   string            `json:"workspace"`
	Action      string            `json:"action"`
	Params      map[string]string `json:"params,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
}

type sourceRequest struct {
	Path  string `json:"path"`
	Watch bool   `json:"watch,omitempty"`
	Force bool   `json:"force,omitempty"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Workspace == "" {
		http.Error(w, "workspace is required", http.StatusBadRequest)
		return
	}

	action := model.ActionPipeline
	if req.Action != "" {
		parsed, err := model.ParseAction(req.Action)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		action = parsed
	}

	res, err := s.sched.Submit(r.Context(), req.Workspace, action, req.Params, req.CallbackURL)
	if err != nil {
		http.Error(w, "failed to submit task: "+err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusAccepted
	if !res.Submitted {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := s.sched.GetStatus(r.Context(), id)
	if err != nil {
		http.Error(w, "task not found: "+err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if merr := s.sched.Cancel(id); merr != nil {
		status := http.StatusConflict
		if merr.Code == model.CodeCancelUnsupported {
			status = http.StatusNotImplemented
		}
		writeJSON(w, status, map[string]any{"error": merr})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canceled": id})
}

func (s *Server) handleListScorers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"scorers": s.registry.List(),
		"watched": s.registry.Watched(),
	})
}

func (s *Server) handleLoadScorers(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSource(w, r)
	if !ok {
		return
	}

	names, merr := s.registry.LoadFromSource(req.Path, req.Watch, req.Force)
	if merr != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": merr})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded": names})
}

func (s *Server) handleReloadScorers(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSource(w, r)
	if !ok {
		return
	}

	names, merr := s.registry.Reload(req.Path, req.Force)
	if merr != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": merr})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded": names})
}

func (s *Server) handleWatchScorers(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSource(w, r)
	if !ok {
		return
	}

	s.registry.Watch(req.Path, time.Duration(s.regCfg.WATCH_INTERVAL)*time.Second)
	writeJSON(w, http.StatusOK, map[string]any{"watched": s.registry.Watched()})
}

func (s *Server) handleUnwatchScorers(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSource(w, r)
	if !ok {
		return
	}

	s.registry.Unwatch(req.Path)
	writeJSON(w, http.StatusOK, map[string]any{"watched": s.registry.Watched()})
}

func decodeSource(w http.ResponseWriter, r *http.Request) (sourceRequest, bool) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
