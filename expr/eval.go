package expr

import (
	"errors"
	"math"
)

// Constant is a named numeric literal bundled with a formula. Context values
// override constants with the same key.
type Constant struct {
	Key         string  `json:"key"`
	Label       string  `json:"label"`
	Value       float64 `json:"value"`
	Description string  `json:"description,omitempty"`
}

// Step is one intermediate value computed during a traced evaluation
type Step struct {
	Expression string  `json:"expression"`
	Value      float64 `json:"value"`
}

// Result is the outcome of evaluating an expression. Value is nil unless Success.
type Result struct {
	Success          bool     `json:"success"`
	Value            *float64 `json:"value"`
	Error            string   `json:"error,omitempty"`
	Kind             Kind     `json:"errorKind,omitempty"`
	UsedVariables    []string `json:"usedVariables"`
	MissingVariables []string `json:"missingVariables"`
	Steps            []Step   `json:"steps,omitempty"`
}

// Failed builds an unsuccessful result from err. Errors that are not *Error
// are reported as numeric errors.
func Failed(err error, used, missing []string) Result {
	kind := KindNumeric
	var exprErr *Error
	if errors.As(err, &exprErr) {
		kind = exprErr.Kind
	}
	return Result{
		Error:            err.Error(),
		Kind:             kind,
		UsedVariables:    nonNil(used),
		MissingVariables: nonNil(missing),
	}
}

// Succeeded builds a successful result holding v
func Succeeded(v float64, used []string) Result {
	return Result{
		Success:          true,
		Value:            &v,
		UsedVariables:    nonNil(used),
		MissingVariables: []string{},
	}
}

// Evaluate parses and evaluates src against context and constants
func Evaluate(src string, context map[string]float64, constants []Constant) Result {
	return evaluateSource(src, context, constants, false)
}

// Preview evaluates a draft expression exactly like Evaluate and additionally
// records every intermediate operator and function value in Result.Steps.
func Preview(src string, context map[string]float64, constants []Constant) Result {
	return evaluateSource(src, context, constants, true)
}

func evaluateSource(src string, context map[string]float64, constants []Constant, trace bool) Result {
	parsed, err := Parse(src)
	if err != nil {
		return Failed(err, nil, nil)
	}
	if trace {
		return parsed.Trace(context, constants)
	}
	return parsed.Eval(context, constants)
}

// Scope merges constants and context into one variable table, context winning on collision
func Scope(context map[string]float64, constants []Constant) map[string]float64 {
	scope := make(map[string]float64, len(context)+len(constants))
	for _, c := range constants {
		scope[c.Key] = c.Value
	}
	for k, v := range context {
		scope[k] = v
	}
	return scope
}

// Bind resolves every free variable of e in scope. It fails with the full list
// of unresolved names; only when none are missing does a non-finite value fail it.
func (e *Expr) Bind(scope map[string]float64) (map[string]float64, []string, error) {
	bound := make(map[string]float64, len(e.vars))
	var missing []string
	nonFinite := ""
	for _, name := range e.vars {
		v, ok := scope[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if (math.IsNaN(v) || math.IsInf(v, 0)) && nonFinite == "" {
			nonFinite = name
		}
		bound[name] = v
	}
	if len(missing) > 0 {
		return nil, missing, evalErrorf(KindMissingVariable, "no value supplied for %v", missing)
	}
	if nonFinite != "" {
		return nil, nil, evalErrorf(KindNumeric, "variable %q is not a finite number", nonFinite)
	}
	return bound, nil, nil
}

// Eval computes e against context and constants
func (e *Expr) Eval(context map[string]float64, constants []Constant) Result {
	return e.run(context, constants, nil)
}

// Trace computes e like Eval and records intermediate steps
func (e *Expr) Trace(context map[string]float64, constants []Constant) Result {
	steps := []Step{}
	return e.run(context, constants, &steps)
}

func (e *Expr) run(context map[string]float64, constants []Constant, steps *[]Step) Result {
	used := e.Variables()
	bound, missing, err := e.Bind(Scope(context, constants))
	if err != nil {
		return Failed(err, used, missing)
	}

	in := &interpreter{vars: bound, steps: steps}
	v, err := in.eval(e.Root)
	if err != nil {
		res := Failed(err, used, nil)
		if steps != nil {
			res.Steps = *steps
		}
		return res
	}

	res := Succeeded(v, used)
	if steps != nil {
		res.Steps = *steps
	}
	return res
}

type interpreter struct {
	vars  map[string]float64
	steps *[]Step
}

func (in *interpreter) eval(n Node) (float64, error) {
	switch n := n.(type) {
	case *Number:
		return n.Value, nil

	case *Var:
		return in.vars[n.Name], nil

	case *Unary:
		v, err := in.eval(n.Operand)
		if err != nil {
			return 0, err
		}
		return in.record(n, Negate(v))

	case *Binary:
		l, err := in.eval(n.Left)
		if err != nil {
			return 0, err
		}
		r, err := in.eval(n.Right)
		if err != nil {
			return 0, err
		}
		v, err := Arith(n.Op, l, r)
		if err != nil {
			return 0, err
		}
		return in.record(n, v)

	case *Call:
		args := make([]float64, len(n.Args))
		for i, a := range n.Args {
			v, err := in.eval(a)
			if err != nil {
				return 0, err
			}
			args[i] = v
		}
		v, err := Apply(n.Func, args)
		if err != nil {
			return 0, err
		}
		return in.record(n, v)
	}
	return 0, evalErrorf(KindNumeric, "unsupported expression node %T", n)
}

func (in *interpreter) record(n Node, v float64) (float64, error) {
	if in.steps != nil {
		*in.steps = append(*in.steps, Step{Expression: n.String(), Value: v})
	}
	return v, nil
}

// Negate returns -v
func Negate(v float64) float64 {
	return -v
}

// Arith applies a binary operator with the engine's numeric rules: division by
// zero and non-finite results are errors, never Inf or NaN.
func Arith(op byte, l, r float64) (float64, error) {
	var v float64
	switch op {
	case '+':
		v = l + r
	case '-':
		v = l - r
	case '*':
		v = l * r
	case '/':
		if r == 0 {
			return 0, evalErrorf(KindDivisionByZero, "division by zero")
		}
		v = l / r
	default:
		return 0, evalErrorf(KindNumeric, "unsupported operator %q", op)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, evalErrorf(KindNumeric, "result of %g %c %g is not a finite number", l, op, r)
	}
	return v, nil
}

// Apply calls an allow-listed function
func Apply(name string, args []float64) (float64, error) {
	fn, ok := functions[name]
	if !ok {
		return 0, evalErrorf(KindNumeric, "unknown function %q", name)
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return 0, evalErrorf(KindNumeric, "%s called with %d arguments", name, len(args))
	}

	switch name {
	case "min":
		v := args[0]
		for _, a := range args[1:] {
			v = math.Min(v, a)
		}
		return v, nil
	case "max":
		v := args[0]
		for _, a := range args[1:] {
			v = math.Max(v, a)
		}
		return v, nil
	case "abs":
		return math.Abs(args[0]), nil
	case "round":
		return math.Round(args[0]), nil
	case "floor":
		return math.Floor(args[0]), nil
	case "ceil":
		return math.Ceil(args[0]), nil
	}
	return 0, evalErrorf(KindNumeric, "unknown function %q", name)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
