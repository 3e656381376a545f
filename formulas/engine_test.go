package formulas

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/formulas/expr"
)

func newTestEngine(t *testing.T, opts EngineOptions) (*Engine, *InMemoryConfigStore) {
	t.Helper()
	store := NewInMemoryConfigStore()
	en, err := NewEngine(store, opts)
	require.NoError(t, err)
	return en, store
}

func TestEngineMatchesInterpreter(t *testing.T) {
	en, _ := newTestEngine(t, EngineOptions{})

	values := map[string]float64{
		"a": 7, "b": 2, "c": -3.5, "zero": 0, "big": 1e308,
		"revenueBenefit": 1000000, "costBenefit": 500000, "cashFlowBenefit": 250000, "riskBenefit": 2000000,
		"timeToValueMonths": 14,
	}

	testCases := []string{
		"a + b * c",
		"(a + b) * c",
		"a - b - c",
		"a / b / c",
		"-a",
		"--a",
		"-(a - b)",
		"a * -b",
		"min(a)",
		"min(a, b, c)",
		"max(a, b, c, 0)",
		"max(0, 100 - (timeToValueMonths * 10))",
		"abs(c)",
		"round(2.5) + round(-2.5) + round(c)",
		"floor(c) + ceil(c)",
		"revenueBenefit + costBenefit + cashFlowBenefit + riskBenefit",
		".5 * 10",
		"100",
		"a / zero",
		"big * 10",
		"big * 10 - big * 10",
		"min(a / zero, 1)",
		"missing + a",
	}

	for _, src := range testCases {
		t.Run(src, func(t *testing.T) {
			want := expr.Evaluate(src, values, nil)
			got := en.EvaluateExpression(src, values, nil)

			assert.Equal(t, want.Success, got.Success, "interpreter error: %s, engine error: %s", want.Error, got.Error)
			assert.Equal(t, want.Kind, got.Kind)
			assert.Equal(t, want.UsedVariables, got.UsedVariables)
			assert.Equal(t, want.MissingVariables, got.MissingVariables)
			if want.Success && got.Success {
				assert.Equal(t, *want.Value, *got.Value)
			}
		})
	}
}

func TestEngineErrorKinds(t *testing.T) {
	en, _ := newTestEngine(t, EngineOptions{})

	testCases := []struct {
		src  string
		vars map[string]float64
		want expr.Kind
	}{
		{"a / b", map[string]float64{"a": 1, "b": 0}, expr.KindDivisionByZero},
		{"a * a", map[string]float64{"a": 1e200}, expr.KindNumeric},
		{"a + b", map[string]float64{"a": 1}, expr.KindMissingVariable},
		{"a + b", map[string]float64{"a": 1, "b": math.Inf(1)}, expr.KindNumeric},
		{"a +", map[string]float64{"a": 1}, expr.KindSyntax},
	}

	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			res := en.EvaluateExpression(tc.src, tc.vars, nil)
			assert.False(t, res.Success)
			assert.Nil(t, res.Value)
			assert.Equal(t, tc.want, res.Kind)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestEngineCostLimit(t *testing.T) {
	en, _ := newTestEngine(t, EngineOptions{CostLimit: 2})

	res := en.EvaluateExpression("a + b + c + d", map[string]float64{"a": 1, "b": 2, "c": 3, "d": 4}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, expr.KindNumeric, res.Kind)
}

func TestEngineLongChains(t *testing.T) {
	en, _ := newTestEngine(t, EngineOptions{})

	// nesting depth grows with every operator in a flat chain
	src := strings.Repeat("a + ", 500) + "a"
	res := en.EvaluateExpression(src, map[string]float64{"a": 1}, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 501.0, *res.Value)
}

func TestEngineCachesPrograms(t *testing.T) {
	en, _ := newTestEngine(t, EngineOptions{ProgramCacheSize: 2})

	_, p1, err := en.Compile("a + 1")
	require.NoError(t, err)
	_, p2, err := en.Compile("a + 1")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	_, _, err = en.Compile("a + 2")
	require.NoError(t, err)
	_, _, err = en.Compile("a + 3")
	require.NoError(t, err)
	assert.Equal(t, 2, en.programs.Len())
}

func TestEngineCreateFormulaRejectsInvalidExpression(t *testing.T) {
	en, store := newTestEngine(t, EngineOptions{})

	_, err := en.CreateFormula(context.Background(), newFormula(GlobalScope(FieldNetBenefit), "a +", true))
	require.ErrorIs(t, err, ErrInvalidFormula)

	list, err := store.ListVersions(context.Background(), GlobalScope(FieldNetBenefit))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEngineEvaluateByIDUsesStoredConstants(t *testing.T) {
	en, _ := newTestEngine(t, EngineOptions{})
	ctx := context.Background()

	req := newFormula(GlobalScope(FieldNetBenefit), "base * multiplier", true)
	req.Constants = []expr.Constant{{Key: "multiplier", Label: "Multiplier", Value: 2}}
	cfg, err := en.CreateFormula(ctx, req)
	require.NoError(t, err)

	_, res, err := en.EvaluateByID(ctx, cfg.ID, map[string]float64{"base": 150})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 300.0, *res.Value)

	// context values win over constants with the same key
	_, res, err = en.EvaluateByID(ctx, cfg.ID, map[string]float64{"base": 100, "multiplier": 2})
	require.NoError(t, err)
	assert.Equal(t, 200.0, *res.Value)

	_, _, err = en.EvaluateByID(ctx, "00000000-0000-0000-0000-000000000000", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngineResolveCacheInvalidation(t *testing.T) {
	en, store := newTestEngine(t, EngineOptions{})
	ctx := context.Background()
	scope := UseCaseScope("r1", "u1", FieldTTVScore)

	_, err := en.SeedDefaults(ctx, "")
	require.NoError(t, err)

	cfg, err := en.Resolve(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, LevelGlobal, cfg.Scope.Level())

	override, err := en.CreateFormula(ctx, newFormula(ReportScope("r1", FieldTTVScore), "50", true))
	require.NoError(t, err)

	cfg, res, err := en.EvaluateActive(ctx, scope, nil)
	require.NoError(t, err)
	assert.Equal(t, override.ID, cfg.ID)
	assert.Equal(t, 50.0, *res.Value)

	// a write that bypasses the engine leaves the cached resolution in place
	bypass, err := store.Create(ctx, newFormula(UseCaseScope("r1", "u1", FieldTTVScore), "75", true))
	require.NoError(t, err)
	cfg, err = en.Resolve(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, override.ID, cfg.ID)

	_, err = en.ActivateFormula(ctx, bypass.ID)
	require.NoError(t, err)
	cfg, err = en.Resolve(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, bypass.ID, cfg.ID)
}

// pausingStore blocks in GetActive after the read, until release is closed
type pausingStore struct {
	ConfigStore
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *pausingStore) GetActive(ctx context.Context, scope Scope) (*FormulaConfig, error) {
	cfg, err := s.ConfigStore.GetActive(ctx, scope)
	paused := false
	s.once.Do(func() { paused = true })
	if paused {
		close(s.read)
		<-s.release
	}
	return cfg, err
}

func TestEngineResolveDoesNotCacheAcrossActivation(t *testing.T) {
	ctx := context.Background()
	store := &pausingStore{
		ConfigStore: NewInMemoryConfigStore(),
		read:        make(chan struct{}),
		release:     make(chan struct{}),
	}
	en, err := NewEngine(store, EngineOptions{})
	require.NoError(t, err)
	scope := ReportScope("r1", FieldTTVScore)

	v1 := mustCreate(t, store, newFormula(scope, "10", true))

	type result struct {
		cfg *FormulaConfig
		err error
	}
	done := make(chan result, 1)
	go func() {
		cfg, err := en.Resolve(ctx, scope)
		done <- result{cfg, err}
	}()

	// the resolve has read v1 but not yet cached it
	<-store.read
	v2, err := en.CreateFormula(ctx, newFormula(scope, "20", true))
	require.NoError(t, err)
	close(store.release)

	stale := <-done
	require.NoError(t, stale.err)
	assert.Equal(t, v1.ID, stale.cfg.ID)

	cfg, err := en.Resolve(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, cfg.ID, "resolution read before the activation was cached")
}

func TestEngineEvaluateActiveDefaults(t *testing.T) {
	en, _ := newTestEngine(t, EngineOptions{})
	ctx := context.Background()

	_, _, err := en.EvaluateActive(ctx, ReportScope("r1", FieldTotalAnnualImpact), nil)
	require.ErrorIs(t, err, ErrNotFound)

	created, err := en.SeedDefaults(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, created, len(Defaults()))

	_, res, err := en.EvaluateActive(ctx, UseCaseScope("r1", "u1", FieldTotalAnnualImpact), map[string]float64{
		"revenueBenefit": 1000000, "costBenefit": 500000, "cashFlowBenefit": 250000, "riskBenefit": 2000000,
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3750000.0, *res.Value)

	_, res, err = en.EvaluateActive(ctx, ReportScope("r1", FieldTTVScore), map[string]float64{"timeToValueMonths": 14})
	require.NoError(t, err)
	assert.Equal(t, 0.0, *res.Value)
}

func TestEngineConcurrentEvaluation(t *testing.T) {
	en, _ := newTestEngine(t, EngineOptions{ProgramCacheSize: 4})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x := float64(i)
			res := en.EvaluateExpression("x * 2 + max(x, 10)", map[string]float64{"x": x}, nil)
			if !res.Success {
				t.Errorf("evaluation %d failed: %s", i, res.Error)
				return
			}
			if want := x*2 + math.Max(x, 10); *res.Value != want {
				t.Errorf("evaluation %d = %v, want %v", i, *res.Value, want)
			}
		}(i)
	}
	wg.Wait()
}

func TestRenderUsesCheckedFunctions(t *testing.T) {
	parsed, err := expr.Parse("max(a, b, 3) - -c / 2")
	require.NoError(t, err)
	assert.Equal(t, "formula_sub(formula_max(formula_max(a, b), 3.0), formula_div(formula_neg(c), 2.0))", render(parsed.Root))
}
