package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", LevelDebug, false},
		{"", LevelInfo, false},
		{"warning", LevelWarning, false},
		{"Error", LevelError, false},
		{"fatal", LevelFatal, false},
		{"loud", LevelInfo, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantErr, err != nil)
		})
	}
}

func TestInitJSONAndCounters(t *testing.T) {
	require.NoError(t, Init(context.Background(), Options{Level: "DEBUG", SampleRate: 1}))
	t.Cleanup(func() { SetLevel(LevelInfo) })

	var buf bytes.Buffer
	SetOutput(&buf)

	before := EvaluationFailures.Load()
	WarnEvaluationFailed("evaluation failed", "formulaId", "abc")
	assert.Equal(t, before+1, EvaluationFailures.Load())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "evaluation failed", line["msg"])
	assert.Equal(t, "abc", line["formulaId"])
	assert.Equal(t, "WARN", line["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarning)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Info("hidden")
	assert.Zero(t, buf.Len())
	assert.Equal(t, LevelWarning, GetLevel())
}

func TestWarnHttp4xx(t *testing.T) {
	before404, before409 := Total404Errors.Load(), Total409Errors.Load()
	WarnHttp4xx(404)
	WarnHttp4xx(409)
	assert.Equal(t, before404+1, Total404Errors.Load())
	assert.Equal(t, before409+1, Total409Errors.Load())
}
