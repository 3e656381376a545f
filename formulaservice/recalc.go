package formulaservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamcoop/formulas/expr"
	"github.com/liamcoop/formulas/formulas"
	"github.com/liamcoop/formulas/internal/logger"
)

// FieldResult is the outcome for one calculated field
type FieldResult struct {
	FieldKey  string       `json:"fieldKey"`
	FormulaID string       `json:"formulaId,omitempty"`
	Version   int          `json:"version,omitempty"`
	Level     string       `json:"level,omitempty"`
	Resolved  bool         `json:"resolved"`
	Result    *expr.Result `json:"result,omitempty"`
}

// Recalculation holds every calculated field in evaluation order, plus the
// context after successful results were written back
type Recalculation struct {
	ReportID  string             `json:"reportId"`
	UseCaseID string             `json:"useCaseId,omitempty"`
	Fields    []FieldResult      `json:"fields"`
	Values    map[string]float64 `json:"values"`
}

type plannedField struct {
	cfg  *formulas.FormulaConfig
	deps []string
}

// Recalculate evaluates every calculated field for a report or use case through
// the engine. Fields run in dependency order with each result fed into the
// context of later fields. A failed field is removed from the context so its
// dependents fail with missing_variable instead of reading a stale value.
func (s *Service) Recalculate(ctx context.Context, reportID, useCaseID string, values map[string]float64) (*Recalculation, error) {
	if reportID == "" {
		return nil, fmt.Errorf("%w: reportId is required", formulas.ErrInvalidScope)
	}

	keys := formulas.CalculatedFieldKeys()
	planned := make(map[string]plannedField, len(keys))
	var unresolved []string
	for _, key := range keys {
		scope, err := formulas.NewScope(reportID, useCaseID, key)
		if err != nil {
			return nil, err
		}
		cfg, err := s.engine.Resolve(ctx, scope)
		if errors.Is(err, formulas.ErrNotFound) {
			unresolved = append(unresolved, key)
			continue
		}
		if err != nil {
			return nil, err
		}
		planned[key] = plannedField{cfg: cfg, deps: s.dependencies(cfg, keys)}
	}

	order, err := topoSort(keys, planned)
	if err != nil {
		return nil, err
	}

	running := make(map[string]float64, len(values)+len(keys))
	for k, v := range values {
		running[k] = v
	}

	out := &Recalculation{
		ReportID:  reportID,
		UseCaseID: useCaseID,
		Fields:    make([]FieldResult, 0, len(keys)),
	}
	for _, key := range order {
		p := planned[key]
		res := s.engine.EvaluateConfig(p.cfg, running)
		if res.Success {
			running[key] = *res.Value
		} else {
			delete(running, key)
		}
		out.Fields = append(out.Fields, FieldResult{
			FieldKey:  key,
			FormulaID: p.cfg.ID,
			Version:   p.cfg.Version,
			Level:     p.cfg.Scope.Level().String(),
			Resolved:  true,
			Result:    &res,
		})
	}
	for _, key := range unresolved {
		out.Fields = append(out.Fields, FieldResult{FieldKey: key})
	}
	out.Values = running

	logger.Debug("report recalculated",
		"reportId", reportID,
		"useCaseId", useCaseID,
		"fields", len(order),
		"unresolved", len(unresolved))
	return out, nil
}

// dependencies lists the other calculated fields cfg reads. A field reading
// its own key takes the raw context value and is not a dependency.
func (s *Service) dependencies(cfg *formulas.FormulaConfig, calculated []string) []string {
	parsed, _, err := s.engine.Compile(cfg.Expression)
	if err != nil {
		// evaluation reports the syntax error for this field
		return nil
	}

	isCalculated := make(map[string]bool, len(calculated))
	for _, k := range calculated {
		isCalculated[k] = true
	}

	var deps []string
	for _, name := range parsed.Variables() {
		if name != cfg.Scope.FieldKey() && isCalculated[name] {
			deps = append(deps, name)
		}
	}
	return deps
}

// topoSort orders planned fields so every field follows its dependencies,
// breaking ties by library order. Dependencies on unplanned fields are ignored.
func topoSort(keys []string, planned map[string]plannedField) ([]string, error) {
	indegree := make(map[string]int, len(planned))
	dependents := make(map[string][]string, len(planned))
	for key, p := range planned {
		for _, dep := range p.deps {
			if _, ok := planned[dep]; !ok {
				continue
			}
			indegree[key]++
			dependents[dep] = append(dependents[dep], key)
		}
	}

	done := make(map[string]bool, len(planned))
	order := make([]string, 0, len(planned))
	for len(order) < len(planned) {
		next := ""
		for _, key := range keys {
			if _, ok := planned[key]; ok && !done[key] && indegree[key] == 0 {
				next = key
				break
			}
		}
		if next == "" {
			var stuck []string
			for _, key := range keys {
				if _, ok := planned[key]; ok && !done[key] {
					stuck = append(stuck, key)
				}
			}
			return nil, fmt.Errorf("%w: %v", ErrDependencyCycle, stuck)
		}

		done[next] = true
		order = append(order, next)
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return order, nil
}
