package formulas

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/liamcoop/formulas/expr"
	"github.com/liamcoop/formulas/internal/logger"
)

const (
	DefaultProgramCacheSize = 256
	DefaultCostLimit        = 1000000
)

// EngineOptions tunes an Engine. Zero values select the defaults.
type EngineOptions struct {
	ProgramCacheSize int
	CostLimit        uint64
	Cache            ActiveCache
}

// Engine evaluates stored formulas. Validated expressions are compiled into
// CEL programs in which every operator is a checked double function, so a
// program computes exactly what expr.Eval computes.
// Safe for concurrent use.
type Engine struct {
	env       *cel.Env
	store     ConfigStore
	cache     ActiveCache
	programs  *lru.Cache[string, *compiled]
	costLimit uint64
}

type compiled struct {
	parsed  *expr.Expr
	program cel.Program
}

// NewEngine creates an engine over store
func NewEngine(store ConfigStore, opts EngineOptions) (*Engine, error) {
	env, err := newFormulaEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	size := opts.ProgramCacheSize
	if size <= 0 {
		size = DefaultProgramCacheSize
	}
	programs, err := lru.New[string, *compiled](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}

	costLimit := opts.CostLimit
	if costLimit == 0 {
		costLimit = DefaultCostLimit
	}

	cache := opts.Cache
	if cache == nil {
		cache = NewInMemoryActiveCache(DefaultCacheConfig())
	}

	return &Engine{
		env:       env,
		store:     store,
		cache:     cache,
		programs:  programs,
		costLimit: costLimit,
	}, nil
}

// Store returns the underlying config store
func (en *Engine) Store() ConfigStore {
	return en.store
}

// Compile parses expression and builds its CEL program, reusing a cached
// program for an identical expression
func (en *Engine) Compile(expression string) (*expr.Expr, cel.Program, error) {
	if c, ok := en.programs.Get(expression); ok {
		return c.parsed, c.program, nil
	}

	parsed, err := expr.Parse(expression)
	if err != nil {
		return nil, nil, err
	}

	vars := parsed.Variables()
	decls := make([]cel.EnvOption, len(vars))
	for i, name := range vars {
		decls[i] = cel.Variable(name, cel.DoubleType)
	}
	env, err := en.env.Extend(decls...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to declare variables: %w", err)
	}

	ast, issues := env.Compile(render(parsed.Root))
	if issues != nil && issues.Err() != nil {
		return nil, nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := env.Program(ast, cel.CostLimit(en.costLimit))
	if err != nil {
		return nil, nil, fmt.Errorf("program creation error: %w", err)
	}

	en.programs.Add(expression, &compiled{parsed: parsed, program: prog})
	return parsed, prog, nil
}

// CreateFormula checks that the expression compiles, then stores the new version
func (en *Engine) CreateFormula(ctx context.Context, req NewFormula) (*FormulaConfig, error) {
	if _, _, err := en.Compile(req.Expression); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormula, err)
	}

	cfg, err := en.store.Create(ctx, req)
	if err != nil {
		return nil, en.storeError("create", err)
	}
	en.cache.Invalidate()

	logger.Info("formula version created",
		"formulaId", cfg.ID,
		"scope", cfg.Scope.Key(),
		"version", cfg.Version,
		"active", cfg.IsActive)
	return cfg, nil
}

// ActivateFormula makes id the active version of its scope
func (en *Engine) ActivateFormula(ctx context.Context, id string) (*FormulaConfig, error) {
	cfg, err := en.store.Activate(ctx, id)
	if err != nil {
		return nil, en.storeError("activate", err)
	}
	en.cache.Invalidate()

	logger.Info("formula version activated", "formulaId", cfg.ID, "scope", cfg.Scope.Key(), "version", cfg.Version)
	return cfg, nil
}

// SeedDefaults installs the default library for reportID ("" for global)
func (en *Engine) SeedDefaults(ctx context.Context, reportID string) ([]*FormulaConfig, error) {
	created, err := en.store.SeedDefaults(ctx, reportID)
	if err != nil {
		return nil, en.storeError("seed", err)
	}
	if len(created) > 0 {
		en.cache.Invalidate()
	}

	logger.Info("default formulas seeded", "reportId", reportID, "created", len(created))
	return created, nil
}

// Resolve returns the formula in effect for scope, consulting the cache first.
// A result read while a write invalidated the cache is returned but not cached.
func (en *Engine) Resolve(ctx context.Context, scope Scope) (*FormulaConfig, error) {
	if cfg, ok := en.cache.Get(scope); ok {
		return cfg, nil
	}

	generation := en.cache.Generation()
	cfg, err := en.store.GetActive(ctx, scope)
	if err != nil {
		return nil, en.storeError("resolve", err)
	}
	en.cache.Set(scope, cfg, generation)
	return cfg, nil
}

// EvaluateConfig evaluates cfg against context using its stored constants
func (en *Engine) EvaluateConfig(cfg *FormulaConfig, values map[string]float64) expr.Result {
	res := en.evaluate(cfg.Expression, values, cfg.Constants)
	if !res.Success {
		logger.WarnEvaluationFailed("formula evaluation failed",
			"formulaId", cfg.ID,
			"scope", cfg.Scope.Key(),
			"errorKind", res.Kind,
			"error", res.Error)
	}
	return res
}

// EvaluateExpression evaluates a raw expression through the compiled path
func (en *Engine) EvaluateExpression(expression string, values map[string]float64, constants []expr.Constant) expr.Result {
	return en.evaluate(expression, values, constants)
}

// EvaluateByID loads a formula by id and evaluates it
func (en *Engine) EvaluateByID(ctx context.Context, id string, values map[string]float64) (*FormulaConfig, expr.Result, error) {
	cfg, err := en.store.Get(ctx, id)
	if err != nil {
		return nil, expr.Result{}, err
	}
	return cfg, en.EvaluateConfig(cfg, values), nil
}

// EvaluateActive resolves the formula governing scope and evaluates it
func (en *Engine) EvaluateActive(ctx context.Context, scope Scope, values map[string]float64) (*FormulaConfig, expr.Result, error) {
	cfg, err := en.Resolve(ctx, scope)
	if err != nil {
		return nil, expr.Result{}, err
	}
	return cfg, en.EvaluateConfig(cfg, values), nil
}

func (en *Engine) evaluate(expression string, values map[string]float64, constants []expr.Constant) expr.Result {
	parsed, prog, err := en.Compile(expression)
	if err != nil {
		return expr.Failed(err, nil, nil)
	}

	used := parsed.Variables()
	bound, missing, err := parsed.Bind(expr.Scope(values, constants))
	if err != nil {
		return expr.Failed(err, used, missing)
	}

	activation := make(map[string]any, len(bound))
	for k, v := range bound {
		activation[k] = v
	}

	out, _, err := prog.Eval(activation)
	if err != nil {
		return expr.Failed(fromCELError(err), used, nil)
	}
	v, ok := out.(types.Double)
	if !ok {
		return expr.Failed(&expr.Error{Kind: expr.KindNumeric, Message: fmt.Sprintf("result has type %s", out.Type().TypeName()), Pos: -1}, used, nil)
	}
	return expr.Succeeded(float64(v), used)
}

func (en *Engine) storeError(op string, err error) error {
	if errors.Is(err, ErrActivationConflict) {
		logger.ErrorActivationConflict("single-active invariant violated", "op", op, "error", err)
	}
	return err
}

// CEL function names for the checked operators. Arithmetic operators and
// allow-listed functions never reach CEL's own overloads.
const (
	fnAdd   = "formula_add"
	fnSub   = "formula_sub"
	fnMul   = "formula_mul"
	fnDiv   = "formula_div"
	fnNeg   = "formula_neg"
	fnMin   = "formula_min"
	fnMax   = "formula_max"
	fnAbs   = "formula_abs"
	fnRound = "formula_round"
	fnFloor = "formula_floor"
	fnCeil  = "formula_ceil"
)

var binaryOps = map[byte]string{'+': fnAdd, '-': fnSub, '*': fnMul, '/': fnDiv}

func newFormulaEnv() (*cel.Env, error) {
	dd := []*cel.Type{cel.DoubleType, cel.DoubleType}
	d := []*cel.Type{cel.DoubleType}

	opts := []cel.EnvOption{
		// left-associative chains render as nested calls, one level per operator
		cel.ParserRecursionLimit(expr.MaxExpressionLength),
		cel.Function(fnNeg, cel.Overload(fnNeg+"_double", d, cel.DoubleType,
			cel.UnaryBinding(func(v ref.Val) ref.Val {
				x, ok := v.(types.Double)
				if !ok {
					return celErr(expr.KindNumeric, "unexpected operand type")
				}
				return types.Double(expr.Negate(float64(x)))
			}))),
	}
	for op, name := range binaryOps {
		opts = append(opts, cel.Function(name,
			cel.Overload(name+"_double_double", dd, cel.DoubleType, cel.BinaryBinding(arith(op)))))
	}
	for name, fn := range map[string]string{fnMin: "min", fnMax: "max"} {
		opts = append(opts, cel.Function(name,
			cel.Overload(name+"_double_double", dd, cel.DoubleType, cel.BinaryBinding(apply2(fn)))))
	}
	for name, fn := range map[string]string{fnAbs: "abs", fnRound: "round", fnFloor: "floor", fnCeil: "ceil"} {
		opts = append(opts, cel.Function(name,
			cel.Overload(name+"_double", d, cel.DoubleType, cel.UnaryBinding(apply1(fn)))))
	}

	return cel.NewEnv(opts...)
}

func arith(op byte) func(lhs, rhs ref.Val) ref.Val {
	return func(lhs, rhs ref.Val) ref.Val {
		l, lok := lhs.(types.Double)
		r, rok := rhs.(types.Double)
		if !lok || !rok {
			return celErr(expr.KindNumeric, "unexpected operand types")
		}
		v, err := expr.Arith(op, float64(l), float64(r))
		if err != nil {
			return toCELError(err)
		}
		return types.Double(v)
	}
}

func apply2(name string) func(lhs, rhs ref.Val) ref.Val {
	return func(lhs, rhs ref.Val) ref.Val {
		l, lok := lhs.(types.Double)
		r, rok := rhs.(types.Double)
		if !lok || !rok {
			return celErr(expr.KindNumeric, "unexpected operand types")
		}
		v, err := expr.Apply(name, []float64{float64(l), float64(r)})
		if err != nil {
			return toCELError(err)
		}
		return types.Double(v)
	}
}

func apply1(name string) func(ref.Val) ref.Val {
	return func(arg ref.Val) ref.Val {
		x, ok := arg.(types.Double)
		if !ok {
			return celErr(expr.KindNumeric, "unexpected operand type")
		}
		v, err := expr.Apply(name, []float64{float64(x)})
		if err != nil {
			return toCELError(err)
		}
		return types.Double(v)
	}
}

// CEL errors carry the failure kind as a "kind: message" prefix
func celErr(kind expr.Kind, msg string) ref.Val {
	return types.NewErr("%s: %s", kind, msg)
}

func toCELError(err error) ref.Val {
	var exprErr *expr.Error
	if errors.As(err, &exprErr) {
		return celErr(exprErr.Kind, exprErr.Message)
	}
	return celErr(expr.KindNumeric, err.Error())
}

func fromCELError(err error) error {
	msg := err.Error()
	if kind, rest, ok := strings.Cut(msg, ": "); ok {
		switch k := expr.Kind(kind); k {
		case expr.KindDivisionByZero, expr.KindNumeric, expr.KindMissingVariable:
			return &expr.Error{Kind: k, Message: rest, Pos: -1}
		}
	}
	return &expr.Error{Kind: expr.KindNumeric, Message: msg, Pos: -1}
}

// render writes n as CEL source built only from the checked functions
func render(n expr.Node) string {
	var b strings.Builder
	renderTo(&b, n)
	return b.String()
}

func renderTo(b *strings.Builder, n expr.Node) {
	switch n := n.(type) {
	case *expr.Number:
		lit := expr.FormatNumber(n.Value)
		b.WriteString(lit)
		if !strings.ContainsAny(lit, ".eE") {
			b.WriteString(".0")
		}
	case *expr.Var:
		b.WriteString(n.Name)
	case *expr.Unary:
		call(b, fnNeg, n.Operand)
	case *expr.Binary:
		call(b, binaryOps[n.Op], n.Left, n.Right)
	case *expr.Call:
		renderCall(b, n)
	}
}

// renderCall folds variadic min and max into nested binary calls
func renderCall(b *strings.Builder, n *expr.Call) {
	switch n.Func {
	case "min", "max":
		name := fnMin
		if n.Func == "max" {
			name = fnMax
		}
		if len(n.Args) == 1 {
			renderTo(b, n.Args[0])
			return
		}
		for range n.Args[1:] {
			b.WriteString(name)
			b.WriteByte('(')
		}
		renderTo(b, n.Args[0])
		for _, a := range n.Args[1:] {
			b.WriteString(", ")
			renderTo(b, a)
			b.WriteByte(')')
		}
	default:
		call(b, "formula_"+n.Func, n.Args...)
	}
}

func call(b *strings.Builder, name string, args ...expr.Node) {
	b.WriteString(name)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		renderTo(b, a)
	}
	b.WriteByte(')')
}
