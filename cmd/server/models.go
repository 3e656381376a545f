package main

import (
	"github.com/liamcoop/formulas/expr"
	"github.com/liamcoop/formulas/formulas"
)

// API request and response models

// ValidateRequest is the body of POST /formulas/validate
type ValidateRequest struct {
	Expression      string   `json:"expression"`
	ExtraKnownNames []string `json:"extraKnownNames,omitempty"`
}

// PreviewRequest is the body of POST /formulas/preview
type PreviewRequest struct {
	Expression string             `json:"expression"`
	Context    map[string]float64 `json:"context"`
	Constants  []expr.Constant    `json:"constants,omitempty"`
}

// RecalculateRequest is the body of POST /reports/{reportId}/recalculate
type RecalculateRequest struct {
	UseCaseID string             `json:"useCaseId,omitempty"`
	Context   map[string]float64 `json:"context"`
}

// FormulasListResponse wraps a list of formula versions
type FormulasListResponse struct {
	Formulas []*formulas.FormulaConfig `json:"formulas"`
	Count    int                       `json:"count"`
}

// ErrorResponse is returned for every non-2xx status
type ErrorResponse struct {
	Error      string                 `json:"error"`
	Details    string                 `json:"details,omitempty"`
	Validation *expr.ValidationResult `json:"validation,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status   string           `json:"status"`
	Store    string           `json:"store"`
	Error    string           `json:"error,omitempty"`
	Counters map[string]int64 `json:"counters"`
}
