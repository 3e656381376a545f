package expr

import "fmt"

// ValidationResult reports whether an expression can be stored as a formula
type ValidationResult struct {
	IsValid          bool     `json:"isValid"`
	Kind             Kind     `json:"kind,omitempty"`
	Errors           []string `json:"errors"`
	UsedVariables    []string `json:"usedVariables"`
	MissingVariables []string `json:"missingVariables"`
}

// Validate parses src and checks every free variable against known, without
// evaluating anything. A reference to an unknown name makes the expression invalid.
func Validate(src string, known []string) ValidationResult {
	res := ValidationResult{
		Errors:           []string{},
		UsedVariables:    []string{},
		MissingVariables: []string{},
	}

	parsed, err := Parse(src)
	if err != nil {
		res.Kind = KindSyntax
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	knownSet := make(map[string]bool, len(known))
	for _, name := range known {
		knownSet[name] = true
	}

	res.UsedVariables = parsed.Variables()
	for _, name := range res.UsedVariables {
		if !knownSet[name] {
			res.MissingVariables = append(res.MissingVariables, name)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: unknown variable %q", KindUnknownVariable, name))
		}
	}

	if len(res.MissingVariables) > 0 {
		res.Kind = KindUnknownVariable
		return res
	}
	res.IsValid = true
	return res
}
