package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/internal/pipeline"
	"github.com/user/price-monitor/internal/storage"
	"github.com/user/price-monitor/pkg/utils"
)

const requestTimeout = 5 * time.Second

type targetResponse struct {
	Response
	Target *domain.TargetURL `json:"target"`
}

type targetsResponse struct {
	Response
	Targets []domain.TargetURL `json:"targets"`
}

type runResponse struct {
	Response
	RunID string `json:"run_id"`
}

type historyResponse struct {
	Response
	URL     string                     `json:"url"`
	Latest  *domain.PriceRecord        `json:"latest,omitempty"`
	History []domain.PriceHistoryEntry `json:"history"`
}

func (s *Server) log(r *http.Request, op string) *zap.Logger {
	return s.logger.With(
		zap.String("op", op),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (s *Server) handleSaveTarget(w http.ResponseWriter, r *http.Request) {
	const op = "api.handleSaveTarget"
	log := s.log(r, op)

	var req domain.AddTargetRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("failed to decode request body", zap.Error(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error("failed to decode request"))
		return
	}

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		render.Status(r, http.StatusBadRequest)
		if errors.As(err, &verrs) {
			render.JSON(w, r, ValidationError(verrs))
		} else {
			render.JSON(w, r, Error("invalid request"))
		}
		return
	}

	normalized, err := utils.NormalizeURL(req.URL)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	target, err := s.deps.Targets.SaveTarget(ctx, normalized, req.Name)
	if err != nil {
		log.Error("failed to save target", zap.String("url", normalized), zap.Error(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error("internal error"))
		return
	}

	log.Info("target saved", zap.Int64("id", target.ID), zap.String("url", target.URL))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, targetResponse{Response: OK(), Target: target})
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	const op = "api.handleDeleteTarget"
	log := s.log(r, op)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error("invalid id"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	err = s.deps.Targets.DeleteTarget(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, Error("target not found"))
		return
	case err != nil:
		log.Error("failed to delete target", zap.Int64("id", id), zap.Error(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error("internal error"))
		return
	}

	log.Info("target deleted", zap.Int64("id", id))
	render.JSON(w, r, OK())
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request, op string) ([]domain.TargetURL, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	targets, err := s.deps.Targets.ListTargets(ctx)
	if err != nil {
		s.log(r, op).Error("failed to list targets", zap.Error(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error("internal error"))
		return nil, false
	}
	if targets == nil {
		targets = []domain.TargetURL{}
	}
	return targets, true
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, ok := s.listTargets(w, r, "api.handleListTargets")
	if !ok {
		return
	}
	render.JSON(w, r, targetsResponse{Response: OK(), Targets: targets})
}

// handlePublicURLs exposes only the monitored URLs.
func (s *Server) handlePublicURLs(w http.ResponseWriter, r *http.Request) {
	targets, ok := s.listTargets(w, r, "api.handlePublicURLs")
	if !ok {
		return
	}
	urls := make([]string, len(targets))
	for i, t := range targets {
		urls[i] = t.URL
	}
	render.JSON(w, r, map[string]any{"status": StatusOK, "urls": urls})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	const op = "api.handleStartRun"
	log := s.log(r, op)

	runID, err := s.deps.Runner.Start(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, Error(err.Error()))
		return
	case err != nil:
		log.Error("failed to start run", zap.Error(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error("internal error"))
		return
	}

	log.Info("run started", zap.String("run_id", runID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, runResponse{Response: OK(), RunID: runID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.deps.Runner.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.handleHistory"
	log := s.log(r, op)

	raw := r.URL.Query().Get("url")
	if raw == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error("url query parameter is required"))
		return
	}
	normalized, err := utils.NormalizeURL(raw)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error(err.Error()))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	latest, err := s.deps.History.Get(ctx, normalized)
	if errors.Is(err, storage.ErrNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, Error("no price recorded for url"))
		return
	}
	if err != nil {
		log.Error("failed to read price record", zap.Error(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error("internal error"))
		return
	}

	entries, err := s.deps.History.History(ctx, normalized, limit)
	if err != nil {
		log.Error("failed to read price history", zap.Error(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error("internal error"))
		return
	}
	if entries == nil {
		entries = []domain.PriceHistoryEntry{}
	}
	render.JSON(w, r, historyResponse{Response: OK(), URL: normalized, Latest: latest, History: entries})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string, len(s.deps.Health))
	healthy := true
	for name, p := range s.deps.Health {
		if err := p.Ping(ctx); err != nil {
			healthStatus[name] = "unhealthy"
			healthy = false
			s.logger.Error("health check failed", zap.String("dependency", name), zap.Error(err))
			continue
		}
		healthStatus[name] = "healthy"
	}

	if !healthy {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, healthStatus)
}
