package formulas

// DefaultFormula is a built-in calculation used to seed new reports
type DefaultFormula struct {
	FieldKey    string   `json:"fieldKey"`
	Label       string   `json:"label"`
	Expression  string   `json:"expression"`
	InputFields []string `json:"inputFields"`
	Description string   `json:"description"`
}

// Calculated field keys covered by the default library
const (
	FieldTotalAnnualImpact = "totalAnnualImpact"
	FieldPriorityScore     = "priorityScore"
	FieldValueScore        = "valueScore"
	FieldTTVScore          = "ttvScore"
	FieldEffortScore       = "effortScore"
	FieldAnnualTokenCost   = "annualTokenCost"
	FieldNetBenefit        = "netBenefit"
)

var defaultLibrary = []DefaultFormula{
	{
		FieldKey:    FieldTotalAnnualImpact,
		Label:       "Total Annual Impact (Default)",
		Expression:  "revenueBenefit + costBenefit + cashFlowBenefit + riskBenefit",
		InputFields: []string{"revenueBenefit", "costBenefit", "cashFlowBenefit", "riskBenefit"},
		Description: "Sum of all benefit categories",
	},
	{
		FieldKey:    FieldPriorityScore,
		Label:       "Priority Score (Default)",
		Expression:  "(valueScore * weightValue / 100) + (ttvScore * weightTtv / 100) + ((100 - effortScore) * weightEffort / 100)",
		InputFields: []string{"valueScore", "ttvScore", "effortScore", "weightValue", "weightTtv", "weightEffort"},
		Description: "Weighted combination of value, time-to-value, and effort scores",
	},
	{
		FieldKey:    FieldValueScore,
		Label:       "Value Score (Default)",
		Expression:  "(totalAnnualImpact / maxTotalImpact) * 100 * (probabilityOfSuccess / 100)",
		InputFields: []string{"totalAnnualImpact", "maxTotalImpact", "probabilityOfSuccess"},
		Description: "Normalized value score adjusted by probability",
	},
	{
		FieldKey:    FieldTTVScore,
		Label:       "TTV Score (Default)",
		Expression:  "max(0, 100 - (timeToValueMonths * 10))",
		InputFields: []string{"timeToValueMonths"},
		Description: "Time-to-value score (higher = faster implementation)",
	},
	{
		FieldKey:    FieldEffortScore,
		Label:       "Effort Score (Default)",
		Expression:  "effortScore",
		InputFields: []string{"effortScore"},
		Description: "Direct pass-through of effort estimate",
	},
	{
		FieldKey:    FieldAnnualTokenCost,
		Label:       "Annual Token Cost (Default)",
		Expression:  "(avgInputTokens * inputTokenCost / 1000000 + avgOutputTokens * outputTokenCost / 1000000) * runsPerYear * (1 - cachingEffectiveness * promptCachingDiscount / 10000)",
		InputFields: []string{"avgInputTokens", "inputTokenCost", "avgOutputTokens", "outputTokenCost", "runsPerYear", "cachingEffectiveness", "promptCachingDiscount"},
		Description: "Annual AI token costs with caching discount",
	},
	{
		FieldKey:    FieldNetBenefit,
		Label:       "Net Benefit (Default)",
		Expression:  "totalAnnualImpact - annualTokenCost - implementationCost / 3",
		InputFields: []string{"totalAnnualImpact", "annualTokenCost", "implementationCost"},
		Description: "Net annual benefit after costs (3-year amortization)",
	},
}

// Defaults returns a copy of the default formula library in seeding order
func Defaults() []DefaultFormula {
	out := make([]DefaultFormula, len(defaultLibrary))
	for i, d := range defaultLibrary {
		d.InputFields = append([]string(nil), d.InputFields...)
		out[i] = d
	}
	return out
}

// DefaultFor returns the built-in formula for fieldKey
func DefaultFor(fieldKey string) (DefaultFormula, bool) {
	for _, d := range defaultLibrary {
		if d.FieldKey == fieldKey {
			d.InputFields = append([]string(nil), d.InputFields...)
			return d, true
		}
	}
	return DefaultFormula{}, false
}

// CalculatedFieldKeys lists the field keys covered by the default library
func CalculatedFieldKeys() []string {
	keys := make([]string, len(defaultLibrary))
	for i, d := range defaultLibrary {
		keys[i] = d.FieldKey
	}
	return keys
}

// NewFromDefault builds the create request that seeds d into scope
func NewFromDefault(d DefaultFormula, scope Scope) NewFormula {
	return NewFormula{
		Scope:       scope,
		Label:       d.Label,
		Expression:  d.Expression,
		InputFields: append([]string(nil), d.InputFields...),
		Notes:       d.Description,
		CreatedBy:   CreatedBySystem,
		MakeActive:  true,
	}
}
