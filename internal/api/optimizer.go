package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/FairForge/requestopt/internal/optimizer"
	"github.com/FairForge/requestopt/internal/transport"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRequestBody = 1 << 20

func (s *Server) registerOptimizerRoutes(r chi.Router) {
	r.Route("/optimizer", func(r chi.Router) {
		r.Post("/requests", s.handleOptimizeRequest)

		r.Get("/metrics", s.handleGetMetrics)
		r.Post("/metrics/reset", s.handleResetMetrics)
		r.Get("/patterns", s.handleGetPatterns)
		r.Get("/recommendations", s.handleGetRecommendations)
		r.Get("/queue", s.handleGetQueue)
		r.Get("/dedup", s.handleGetDedup)

		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handleUpdateConfig)

		r.Get("/rules", s.handleListRules)
		r.Delete("/rules/{id}", s.handleDeleteRule)
		r.Post("/rules/{id}/enable", s.handleSetRuleEnabled(true))
		r.Post("/rules/{id}/disable", s.handleSetRuleEnabled(false))
	})
}

// handleOptimizeRequest sends one request through the optimizer pipeline
func (s *Server) handleOptimizeRequest(w http.ResponseWriter, r *http.Request) {
	var req transport.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Method == "" || req.Endpoint == "" {
		respondError(w, http.StatusBadRequest, "method and endpoint are required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	resp, err := s.optimizer.OptimizeRequest(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, optimizer.ErrQueueFull), errors.Is(err, optimizer.ErrNotRunning):
			respondError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Warn("optimized request failed", zap.String("request_id", req.ID), zap.Error(err))
			respondError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.optimizer.Metrics())
}

func (s *Server) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	s.optimizer.ResetMetrics()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPatterns(w http.ResponseWriter, r *http.Request) {
	patterns := s.optimizer.RequestPatterns()
	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].Frequency > patterns[j].Frequency
	})
	respondJSON(w, http.StatusOK, patterns)
}

func (s *Server) handleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	recs := s.optimizer.OptimizationRecommendations()
	if recs == nil {
		recs = []optimizer.Recommendation{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.optimizer.QueueStats())
}

func (s *Server) handleGetDedup(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.optimizer.DedupStats())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.optimizer.Config())
}

// handleUpdateConfig merges the body over the current configuration
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.optimizer.Config()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid config body")
		return
	}
	if err := s.optimizer.UpdateConfig(cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.optimizer.Config())
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.optimizer.Rules())
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if !s.optimizer.RemoveOptimizationRule(chi.URLParam(r, "id")) {
		respondError(w, http.StatusNotFound, "rule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRuleEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.optimizer.SetRuleEnabled(chi.URLParam(r, "id"), enabled) {
			respondError(w, http.StatusNotFound, "rule not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
