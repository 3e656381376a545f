package expr

import (
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateTotalAnnualImpact(t *testing.T) {
	res := Evaluate("revenueBenefit + costBenefit + cashFlowBenefit + riskBenefit", map[string]float64{
		"revenueBenefit":  2500000,
		"costBenefit":     800000,
		"cashFlowBenefit": 300000,
		"riskBenefit":     150000,
	}, nil)

	require.True(t, res.Success, "evaluation failed: %s", res.Error)
	require.NotNil(t, res.Value)
	assert.Equal(t, 3750000.0, *res.Value)
	assert.ElementsMatch(t, []string{"revenueBenefit", "costBenefit", "cashFlowBenefit", "riskBenefit"}, res.UsedVariables)
	assert.Empty(t, res.MissingVariables)
}

func TestEvaluateContextOverridesConstants(t *testing.T) {
	constants := []Constant{{Key: "multiplier", Label: "Multiplier", Value: 2}}

	res := Evaluate("baseline * multiplier", map[string]float64{"baseline": 100, "multiplier": 3}, constants)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 300.0, *res.Value)

	res = Evaluate("baseline * multiplier", map[string]float64{"baseline": 100}, constants)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 200.0, *res.Value)
}

func TestEvaluateMissingVariableFailsClosed(t *testing.T) {
	res := Evaluate("a + b", map[string]float64{"a": 5}, nil)

	assert.False(t, res.Success)
	assert.Nil(t, res.Value)
	assert.Equal(t, KindMissingVariable, res.Kind)
	assert.Equal(t, []string{"b"}, res.MissingVariables)
	assert.Equal(t, []string{"a", "b"}, res.UsedVariables)
}

func TestEvaluateReportsEveryMissingVariable(t *testing.T) {
	res := Evaluate("x * y + z", map[string]float64{"y": 1}, nil)

	assert.False(t, res.Success)
	if diff := cmp.Diff([]string{"x", "z"}, res.MissingVariables); diff != "" {
		t.Errorf("MissingVariables mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateMissingVariablesOutrankNonFinite(t *testing.T) {
	res := Evaluate("a + b + c", map[string]float64{"a": math.NaN()}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, KindMissingVariable, res.Kind)
	assert.Equal(t, []string{"b", "c"}, res.MissingVariables)
}

func TestEvaluateDivisionByZero(t *testing.T) {
	res := Evaluate("a / b", map[string]float64{"a": 10, "b": 0}, nil)

	assert.False(t, res.Success)
	assert.Nil(t, res.Value)
	assert.Equal(t, KindDivisionByZero, res.Kind)
	assert.Contains(t, res.Error, "division by zero")
}

func TestEvaluateNumericErrors(t *testing.T) {
	testCases := []struct {
		name    string
		src     string
		context map[string]float64
	}{
		{"NaN input", "a + 1", map[string]float64{"a": math.NaN()}},
		{"Infinite input", "a + 1", map[string]float64{"a": math.Inf(1)}},
		{"Overflow", "a * a", map[string]float64{"a": math.MaxFloat64}},
		{"Overflow hidden by min", "min(a * a, 1)", map[string]float64{"a": math.MaxFloat64}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := Evaluate(tc.src, tc.context, nil)
			assert.False(t, res.Success)
			assert.Equal(t, KindNumeric, res.Kind)
			assert.Nil(t, res.Value)
		})
	}
}

func TestEvaluateSyntaxErrorIsData(t *testing.T) {
	res := Evaluate("a +* b", map[string]float64{"a": 1, "b": 2}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, KindSyntax, res.Kind)
	assert.NotEmpty(t, res.Error)
	assert.NotNil(t, res.UsedVariables)
	assert.NotNil(t, res.MissingVariables)
}

func TestEvaluateFunctions(t *testing.T) {
	testCases := []struct {
		src  string
		want float64
	}{
		{"min(3, 1, 2)", 1},
		{"max(3, 1, 2)", 3},
		{"max(0, 100 - 12 * 10)", 0},
		{"abs(-4.5)", 4.5},
		{"round(2.5)", 3},
		{"round(-2.5)", -3},
		{"round(2.4)", 2},
		{"floor(-1.5)", -2},
		{"ceil(1.2)", 2},
		{"-(2 + 3) * 2", -10},
		{"10 - 4 - 3", 3},
		{"100 / 4 / 5", 5},
	}

	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			res := Evaluate(tc.src, nil, nil)
			require.True(t, res.Success, res.Error)
			assert.Equal(t, tc.want, *res.Value)
		})
	}
}

func TestEvaluateDefaultTokenCost(t *testing.T) {
	src := "(avgInputTokens * inputTokenCost / 1000000 + avgOutputTokens * outputTokenCost / 1000000) * runsPerYear * (1 - cachingEffectiveness * promptCachingDiscount / 10000)"
	res := Evaluate(src, map[string]float64{
		"avgInputTokens":        500,
		"inputTokenCost":        3,
		"avgOutputTokens":       300,
		"outputTokenCost":       15,
		"runsPerYear":           100000,
		"cachingEffectiveness":  40,
		"promptCachingDiscount": 90,
	}, nil)

	require.True(t, res.Success, res.Error)
	// (0.0015 + 0.0045) * 100000 * (1 - 0.36) = 384
	assert.InDelta(t, 384.0, *res.Value, 1e-9)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	src := "round(a / 3 * b) + min(c, a) - max(b, 0.1)"
	ctx := map[string]float64{"a": 7, "b": 1.1, "c": 2}
	consts := []Constant{{Key: "c", Value: 100}, {Key: "d", Value: 1}}

	first := Evaluate(src, ctx, consts)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(first, Evaluate(src, ctx, consts)); diff != "" {
			t.Fatalf("evaluation %d differs (-first +got):\n%s", i, diff)
		}
	}
	require.True(t, first.Success)
	assert.Equal(t, math.Float64bits(*first.Value), math.Float64bits(*Evaluate(src, ctx, consts).Value))
}

func TestEvaluateConcurrent(t *testing.T) {
	e, err := Parse("a * b + c")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := float64(i)
			res := e.Eval(map[string]float64{"a": v, "b": 2, "c": 1}, nil)
			if !res.Success || *res.Value != v*2+1 {
				t.Errorf("Eval(%d) = %+v", i, res)
			}
		}(i)
	}
	wg.Wait()
}

func TestPreviewRecordsSteps(t *testing.T) {
	res := Preview("max(0, 100 - months * 10)", map[string]float64{"months": 4}, nil)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 60.0, *res.Value)

	want := []Step{
		{Expression: "(months * 10)", Value: 40},
		{Expression: "(100 - (months * 10))", Value: 60},
		{Expression: "max(0, (100 - (months * 10)))", Value: 60},
	}
	if diff := cmp.Diff(want, res.Steps); diff != "" {
		t.Errorf("Steps mismatch (-want +got):\n%s", diff)
	}
}

func TestPreviewMatchesEvaluate(t *testing.T) {
	src := "(valueScore * weightValue / 100) + (ttvScore * weightTtv / 100) + ((100 - effortScore) * weightEffort / 100)"
	ctx := map[string]float64{
		"valueScore": 80, "ttvScore": 60, "effortScore": 30,
		"weightValue": 40, "weightTtv": 30, "weightEffort": 30,
	}

	evaluated := Evaluate(src, ctx, nil)
	previewed := Preview(src, ctx, nil)

	require.True(t, evaluated.Success)
	assert.Equal(t, *evaluated.Value, *previewed.Value)
	assert.Empty(t, evaluated.Steps)
	assert.NotEmpty(t, previewed.Steps)
}

func TestPreviewKeepsStepsUpToFailure(t *testing.T) {
	res := Preview("(a + 1) / b", map[string]float64{"a": 1, "b": 0}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, KindDivisionByZero, res.Kind)
	assert.Equal(t, []Step{{Expression: "(a + 1)", Value: 2}}, res.Steps)
}
