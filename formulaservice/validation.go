package formulaservice

import (
	"fmt"
	"math"
	"strings"

	"github.com/liamcoop/formulas/expr"
	"github.com/liamcoop/formulas/formulas"
)

const (
	MaxLabelLength = 200
	MaxInputFields = 200
	MaxConstants   = 100
)

// ValidateDefinition checks everything about a create request except the
// expression itself. Returns an error wrapping formulas.ErrInvalidFormula.
func ValidateDefinition(req CreateFormulaRequest) error {
	if strings.TrimSpace(req.FieldKey) == "" {
		return fmt.Errorf("%w: fieldKey is required", formulas.ErrInvalidFormula)
	}

	label := strings.TrimSpace(req.Label)
	if label == "" {
		return fmt.Errorf("%w: label is required", formulas.ErrInvalidFormula)
	}
	if len(label) > MaxLabelLength {
		return fmt.Errorf("%w: label length %d exceeds maximum of %d", formulas.ErrInvalidFormula, len(label), MaxLabelLength)
	}

	if strings.TrimSpace(req.Expression) == "" {
		return fmt.Errorf("%w: expression is required", formulas.ErrInvalidFormula)
	}

	if len(req.InputFields) > MaxInputFields {
		return fmt.Errorf("%w: %d input fields, maximum allowed is %d", formulas.ErrInvalidFormula, len(req.InputFields), MaxInputFields)
	}
	seenInputs := make(map[string]bool, len(req.InputFields))
	for _, name := range req.InputFields {
		if err := expr.ValidateIdentifier(name); err != nil {
			return fmt.Errorf("%w: invalid input field %q: %v", formulas.ErrInvalidFormula, name, err)
		}
		if seenInputs[name] {
			return fmt.Errorf("%w: input field %q is listed more than once", formulas.ErrInvalidFormula, name)
		}
		seenInputs[name] = true
	}

	if len(req.Constants) > MaxConstants {
		return fmt.Errorf("%w: %d constants, maximum allowed is %d", formulas.ErrInvalidFormula, len(req.Constants), MaxConstants)
	}
	return validateConstants(req.Constants)
}

func validateConstants(constants []expr.Constant) error {
	seen := make(map[string]bool, len(constants))
	for _, c := range constants {
		if err := expr.ValidateIdentifier(c.Key); err != nil {
			return fmt.Errorf("%w: invalid constant key %q: %v", formulas.ErrInvalidFormula, c.Key, err)
		}
		if seen[c.Key] {
			return fmt.Errorf("%w: constant %q is defined more than once", formulas.ErrInvalidFormula, c.Key)
		}
		seen[c.Key] = true

		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			return fmt.Errorf("%w: constant %q is not a finite number", formulas.ErrInvalidFormula, c.Key)
		}
	}
	return nil
}
