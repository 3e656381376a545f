package formulaservice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/liamcoop/formulas/expr"
	"github.com/liamcoop/formulas/formulas"
)

var (
	// ErrInvalidRequest is returned for requests that are malformed independent of any stored state
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDependencyCycle is returned when calculated fields reference each other in a loop
	ErrDependencyCycle = errors.New("dependency cycle between calculated fields")
)

// ValidationError reports an expression rejected at save time. It matches
// formulas.ErrInvalidFormula under errors.Is.
type ValidationError struct {
	Result expr.ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid expression: %s", strings.Join(e.Result.Errors, "; "))
}

func (e *ValidationError) Unwrap() error {
	return formulas.ErrInvalidFormula
}
