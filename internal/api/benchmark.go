package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/FairForge/requestopt/internal/benchmark"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) registerBenchmarkRoutes(r chi.Router) {
	r.Route("/benchmarks", func(r chi.Router) {
		r.Get("/", s.handleListHistory)
		r.Get("/history", s.handleListHistory)
		r.Get("/profiles", s.handleListProfiles)
		r.Post("/run", s.handleRunBenchmark)
		r.Post("/stop", s.handleStopBenchmark)
		r.Get("/compare", s.handleCompare)
		r.Get("/{id}", s.handleGetResult)
		r.Get("/{id}/report", s.handleGetReport)
	})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	history := s.suite.History()
	if history == nil {
		history = []*benchmark.LoadTestResult{}
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]benchmark.Config)
	for _, name := range s.suite.Profiles() {
		cfg, _ := s.suite.Profile(name)
		out[name] = cfg
	}
	respondJSON(w, http.StatusOK, out)
}

// handleRunBenchmark runs ?profile=name, or the benchmark.Config in the body
// when no profile is given. The run is synchronous.
func (s *Server) handleRunBenchmark(w http.ResponseWriter, r *http.Request) {
	var (
		result *benchmark.LoadTestResult
		err    error
	)
	if profile := r.URL.Query().Get("profile"); profile != "" {
		result, err = s.suite.RunProfile(r.Context(), profile)
	} else {
		var cfg benchmark.Config
		if decodeErr := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&cfg); decodeErr != nil {
			respondError(w, http.StatusBadRequest, "invalid benchmark config body")
			return
		}
		result, err = s.suite.RunBenchmark(r.Context(), cfg)
	}
	if err != nil {
		s.respondBenchmarkError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleStopBenchmark(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"stopped": s.suite.StopBenchmark()})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	baseline := r.URL.Query().Get("baseline")
	current := r.URL.Query().Get("current")
	if baseline == "" {
		respondError(w, http.StatusBadRequest, "baseline is required")
		return
	}
	if current == "" {
		current = baseline
	}

	report, err := s.suite.Compare(baseline, current)
	if err != nil {
		s.respondBenchmarkError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(report.Text()))
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	report, err := s.suite.Report(chi.URLParam(r, "id"))
	if err != nil {
		s.respondBenchmarkError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleGetReport renders a run as text (default) or ?format=yaml
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.suite.Report(chi.URLParam(r, "id"))
	if err != nil {
		s.respondBenchmarkError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "yaml" {
		out, err := report.YAML()
		if err != nil {
			s.logger.Error("render yaml report", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to render report")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(out)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(report.Text()))
}

func (s *Server) respondBenchmarkError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, benchmark.ErrBenchmarkNotFound), errors.Is(err, benchmark.ErrUnknownProfile):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, benchmark.ErrAlreadyRunning), errors.Is(err, benchmark.ErrStopped):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, benchmark.ErrInvalidConfig):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("benchmark request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
