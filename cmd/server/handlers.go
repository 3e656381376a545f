package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/formulas/formulas"
	"github.com/liamcoop/formulas/formulaservice"
	"github.com/liamcoop/formulas/internal/logger"
)

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "healthy",
		Store:  "memory",
		Counters: map[string]int64{
			"evaluationFailures":   logger.EvaluationFailures.Load(),
			"validationRejections": logger.ValidationRejections.Load(),
			"activationConflicts":  logger.ActivationConflicts.Load(),
			"http4xx":              logger.Total4xxErrors.Load(),
			"http5xx":              logger.Total5xxErrors.Load(),
		},
	}

	if s.db != nil {
		resp.Store = "postgres"
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListInputs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.ListAvailableInputs())
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	respondJSON(w, http.StatusOK, s.svc.ValidateExpression(req.Expression, req.ExtraKnownNames))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	respondJSON(w, http.StatusOK, s.svc.PreviewFormula(req.Expression, req.Context, req.Constants))
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req formulaservice.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	res, err := s.svc.EvaluateFormula(r.Context(), req)
	if err != nil {
		respondServiceError(w, "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListFormulas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.svc.ListFormulas(r.Context(), q.Get("reportId"), q.Get("useCaseId"), q.Get("fieldKey"))
	if err != nil {
		respondServiceError(w, "failed to list formulas", err)
		return
	}

	respondJSON(w, http.StatusOK, FormulasListResponse{Formulas: list, Count: len(list)})
}

func (s *Server) handleGetActiveFormula(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg, err := s.svc.GetActiveFormula(r.Context(), q.Get("reportId"), q.Get("useCaseId"), q.Get("fieldKey"))
	if err != nil {
		respondServiceError(w, "failed to resolve formula", err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleCreateFormula(w http.ResponseWriter, r *http.Request) {
	var req formulaservice.CreateFormulaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	cfg, err := s.svc.CreateFormula(r.Context(), req)
	if err != nil {
		respondServiceError(w, "failed to create formula", err)
		return
	}
	respondJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleGetFormula(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.svc.GetFormula(r.Context(), chi.URLParam(r, "formulaId"))
	if err != nil {
		respondServiceError(w, "formula not found", err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleActivateFormula(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.svc.ActivateFormula(r.Context(), chi.URLParam(r, "formulaId"))
	if err != nil {
		respondServiceError(w, "failed to activate formula", err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSeedDefaults(w http.ResponseWriter, r *http.Request) {
	created, err := s.svc.SeedDefaultFormulas(r.Context(), chi.URLParam(r, "reportId"))
	if err != nil {
		respondServiceError(w, "failed to seed default formulas", err)
		return
	}
	respondJSON(w, http.StatusOK, FormulasListResponse{Formulas: created, Count: len(created)})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	out, err := s.svc.Recalculate(r.Context(), chi.URLParam(r, "reportId"), req.UseCaseID, req.Context)
	if err != nil {
		respondServiceError(w, "failed to recalculate report", err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// respondServiceError maps service and store error kinds to HTTP statuses
func respondServiceError(w http.ResponseWriter, message string, err error) {
	var verr *formulaservice.ValidationError
	switch {
	case errors.As(err, &verr):
		logger.WarnHttp4xx(http.StatusBadRequest)
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Details: err.Error(), Validation: &verr.Result})
	case errors.Is(err, formulas.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, formulas.ErrActivationConflict):
		respondError(w, http.StatusConflict, message, err)
	case errors.Is(err, formulaservice.ErrDependencyCycle):
		respondError(w, http.StatusUnprocessableEntity, message, err)
	case errors.Is(err, formulas.ErrInvalidScope),
		errors.Is(err, formulas.ErrInvalidFormula),
		errors.Is(err, formulaservice.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	if status >= 500 {
		logger.ErrorHttp5xx()
		logger.Error(message, "status", status, "error", err)
	} else {
		logger.WarnHttp4xx(status)
	}

	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}
