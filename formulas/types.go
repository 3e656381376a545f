package formulas

import (
	"time"

	"github.com/liamcoop/formulas/expr"
)

// FormulaConfig is one version of a calculation rule for a scope.
// Versions are append-only; only IsActive and UpdatedAt change after creation.
type FormulaConfig struct {
	ID          string          `json:"id"`
	Scope       Scope           `json:"scope"`
	Label       string          `json:"label"`
	Expression  string          `json:"expression"`
	InputFields []string        `json:"inputFields"`
	Constants   []expr.Constant `json:"constants"`
	Version     int             `json:"version"`
	IsActive    bool            `json:"isActive"`
	Notes       string          `json:"notes,omitempty"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy of f
func (f *FormulaConfig) Clone() *FormulaConfig {
	c := *f
	c.InputFields = append([]string(nil), f.InputFields...)
	c.Constants = append([]expr.Constant(nil), f.Constants...)
	if c.InputFields == nil {
		c.InputFields = []string{}
	}
	if c.Constants == nil {
		c.Constants = []expr.Constant{}
	}
	return &c
}

// NewFormula is the input to ConfigStore.Create
type NewFormula struct {
	Scope       Scope
	Label       string
	Expression  string
	InputFields []string
	Constants   []expr.Constant
	Notes       string
	CreatedBy   string
	MakeActive  bool
}

const (
	CreatedBySystem = "system"
	CreatedByUser   = "user"
)
