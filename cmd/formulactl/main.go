// Command formulactl validates, previews and evaluates formulas from the shell.
//
// Usage:
//
//	formulactl validate "totalAnnualImpact - annualTokenCost"
//	formulactl eval "a / b * 100" --var a=3 --var b=4 --trace
//	formulactl inputs --category token_ai
//	formulactl defaults
//	formulactl seed r1
//	formulactl recalc r1 --use-case u1 --var revenueBenefit=2500000
//
// seed and recalc use the store configured by DATABASE_URL, or a throwaway
// in-memory store seeded with the default library when it is unset.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
