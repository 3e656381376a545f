// Package formulaservice exposes the formula operations consumed by the HTTP
// server and the CLI.
package formulaservice

import (
	"context"
	"fmt"

	"github.com/liamcoop/formulas/catalog"
	"github.com/liamcoop/formulas/expr"
	"github.com/liamcoop/formulas/formulas"
	"github.com/liamcoop/formulas/internal/logger"
)

// Service composes the input catalog with a formula engine
type Service struct {
	engine  *formulas.Engine
	catalog *catalog.Catalog
}

// New creates a Service
func New(engine *formulas.Engine, cat *catalog.Catalog) *Service {
	return &Service{engine: engine, catalog: cat}
}

// Inputs is the catalog as returned by ListAvailableInputs
type Inputs struct {
	Inputs     map[string]catalog.Input   `json:"inputs"`
	ByCategory map[string][]catalog.Input `json:"byCategory"`
	Categories []string                   `json:"categories"`
}

// CreateFormulaRequest defines a new formula version. Nil InputFields are
// derived from the expression; a nil IsActive means true.
type CreateFormulaRequest struct {
	ReportID    string          `json:"reportId,omitempty"`
	UseCaseID   string          `json:"useCaseId,omitempty"`
	FieldKey    string          `json:"fieldKey"`
	Label       string          `json:"label"`
	Expression  string          `json:"expression"`
	InputFields []string        `json:"inputFields,omitempty"`
	Constants   []expr.Constant `json:"constants,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	IsActive    *bool           `json:"isActive,omitempty"`
	CreatedBy   string          `json:"createdBy,omitempty"`
}

// EvaluateRequest names either a saved formula or an ad hoc expression.
// For a saved formula, Constants override stored constants with the same key.
type EvaluateRequest struct {
	FormulaID  string             `json:"formulaId,omitempty"`
	Expression string             `json:"expression,omitempty"`
	Context    map[string]float64 `json:"context"`
	Constants  []expr.Constant    `json:"constants,omitempty"`
}

// ListAvailableInputs returns the catalog, flat and grouped by category
func (s *Service) ListAvailableInputs() Inputs {
	return Inputs{
		Inputs:     s.catalog.ListInputs(),
		ByCategory: s.catalog.ListInputsByCategory(),
		Categories: s.catalog.Categories(),
	}
}

// ValidateExpression checks expression against the catalog plus extraKnownNames
func (s *Service) ValidateExpression(expression string, extraKnownNames []string) expr.ValidationResult {
	return expr.Validate(expression, s.knownNames(extraKnownNames))
}

// PreviewFormula evaluates an unsaved expression and returns its evaluation trace
func (s *Service) PreviewFormula(expression string, values map[string]float64, constants []expr.Constant) expr.Result {
	return expr.Preview(expression, values, constants)
}

// EvaluateFormula evaluates a saved formula through the engine, or an ad hoc expression
func (s *Service) EvaluateFormula(ctx context.Context, req EvaluateRequest) (expr.Result, error) {
	switch {
	case req.FormulaID != "" && req.Expression != "":
		return expr.Result{}, fmt.Errorf("%w: formulaId and expression are mutually exclusive", ErrInvalidRequest)
	case req.FormulaID == "" && req.Expression == "":
		return expr.Result{}, fmt.Errorf("%w: formulaId or expression is required", ErrInvalidRequest)
	case req.Expression != "":
		return expr.Evaluate(req.Expression, req.Context, req.Constants), nil
	}

	cfg, err := s.engine.Store().Get(ctx, req.FormulaID)
	if err != nil {
		return expr.Result{}, err
	}
	if len(req.Constants) > 0 {
		cfg.Constants = mergeConstants(cfg.Constants, req.Constants)
	}
	return s.engine.EvaluateConfig(cfg, req.Context), nil
}

// CreateFormula validates and stores a new formula version
func (s *Service) CreateFormula(ctx context.Context, req CreateFormulaRequest) (*formulas.FormulaConfig, error) {
	scope, err := formulas.NewScope(req.ReportID, req.UseCaseID, req.FieldKey)
	if err != nil {
		return nil, err
	}
	if err := ValidateDefinition(req); err != nil {
		logger.WarnValidationRejected("formula definition rejected", "scope", scope.Key(), "error", err)
		return nil, err
	}

	constantKeys := make([]string, len(req.Constants))
	for i, c := range req.Constants {
		constantKeys[i] = c.Key
	}
	res := s.ValidateExpression(req.Expression, constantKeys)
	if !res.IsValid {
		logger.WarnValidationRejected("formula expression rejected",
			"scope", scope.Key(),
			"errorKind", res.Kind,
			"missingVariables", res.MissingVariables)
		return nil, &ValidationError{Result: res}
	}

	inputFields := req.InputFields
	if inputFields == nil {
		inputFields = res.UsedVariables
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = formulas.CreatedByUser
	}

	return s.engine.CreateFormula(ctx, formulas.NewFormula{
		Scope:       scope,
		Label:       req.Label,
		Expression:  req.Expression,
		InputFields: inputFields,
		Constants:   req.Constants,
		Notes:       req.Notes,
		CreatedBy:   createdBy,
		MakeActive:  active,
	})
}

// ListFormulas returns every version in the exact scope, newest first
func (s *Service) ListFormulas(ctx context.Context, reportID, useCaseID, fieldKey string) ([]*formulas.FormulaConfig, error) {
	scope, err := formulas.NewScope(reportID, useCaseID, fieldKey)
	if err != nil {
		return nil, err
	}
	return s.engine.Store().ListVersions(ctx, scope)
}

// GetFormula returns one version by id
func (s *Service) GetFormula(ctx context.Context, id string) (*formulas.FormulaConfig, error) {
	return s.engine.Store().Get(ctx, id)
}

// GetActiveFormula applies the resolution policy for the scope
func (s *Service) GetActiveFormula(ctx context.Context, reportID, useCaseID, fieldKey string) (*formulas.FormulaConfig, error) {
	scope, err := formulas.NewScope(reportID, useCaseID, fieldKey)
	if err != nil {
		return nil, err
	}
	return s.engine.Resolve(ctx, scope)
}

// ActivateFormula makes id the active version of its scope
func (s *Service) ActivateFormula(ctx context.Context, id string) (*formulas.FormulaConfig, error) {
	return s.engine.ActivateFormula(ctx, id)
}

// SeedDefaultFormulas installs the default library into reportID
func (s *Service) SeedDefaultFormulas(ctx context.Context, reportID string) ([]*formulas.FormulaConfig, error) {
	if reportID == "" {
		return nil, fmt.Errorf("%w: reportId is required", formulas.ErrInvalidScope)
	}
	return s.engine.SeedDefaults(ctx, reportID)
}

// SeedGlobalDefaults installs the default library as the global tier
func (s *Service) SeedGlobalDefaults(ctx context.Context) ([]*formulas.FormulaConfig, error) {
	return s.engine.SeedDefaults(ctx, "")
}

func (s *Service) knownNames(extra []string) []string {
	names := s.catalog.Names()
	return append(names, extra...)
}

// mergeConstants overlays overrides on base, keeping base order and appending new keys
func mergeConstants(base, overrides []expr.Constant) []expr.Constant {
	index := make(map[string]int, len(base))
	out := append([]expr.Constant(nil), base...)
	for i, c := range out {
		index[c.Key] = i
	}
	for _, c := range overrides {
		if i, ok := index[c.Key]; ok {
			out[i] = c
			continue
		}
		index[c.Key] = len(out)
		out = append(out, c)
	}
	return out
}
