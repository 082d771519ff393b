package assertion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowprobe/flowprobe/pkg/models"
)

func TestEvaluateMissingTarget(t *testing.T) {
	verdict, err := Evaluate(models.Assertion{Kind: models.AssertionKindEquals, Expected: "x"}, nil, false)
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
	assert.Equal(t, MissingTargetMessage, verdict.Message)
}

func TestEvaluateEquals(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		passed   bool
		message  string
	}{
		{
			name:     "matching maps",
			expected: map[string]any{"status": "ok", "count": 3},
			actual:   map[string]any{"count": 3, "status": "ok"},
			passed:   true,
		},
		{
			name:     "numeric types compare equal after normalization",
			expected: 3,
			actual:   float64(3),
			passed:   true,
		},
		{
			name:     "mismatch names the field",
			expected: map[string]any{"status": "ok", "total": 5},
			actual:   map[string]any{"status": "ok", "total": 7},
			passed:   false,
			message:  `values differ at "total": expected 5, got 7`,
		},
		{
			name:     "nested mismatch includes path",
			expected: map[string]any{"result": map[string]any{"code": 200}},
			actual:   map[string]any{"result": map[string]any{"code": 500}},
			passed:   false,
			message:  `values differ at "result.code": expected 200, got 500`,
		},
		{
			name:     "missing key reported",
			expected: map[string]any{"status": "ok"},
			actual:   map[string]any{},
			passed:   false,
			message:  `values differ at "status": expected "ok", got null`,
		},
		{
			name:     "scalar mismatch",
			expected: "done",
			actual:   "failed",
			passed:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := Evaluate(models.Assertion{
				Kind:     models.AssertionKindEquals,
				Expected: tt.expected,
			}, tt.actual, true)
			require.NoError(t, err)
			assert.Equal(t, tt.passed, verdict.Passed)

			if tt.message != "" {
				assert.Equal(t, tt.message, verdict.Message)
			}
		})
	}
}

func TestEvaluateContains(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		passed   bool
	}{
		{name: "substring", expected: "wor", actual: "hello world", passed: true},
		{name: "substring missing", expected: "xyz", actual: "hello world", passed: false},
		{name: "slice element", expected: 2, actual: []any{1, 2, 3}, passed: true},
		{name: "slice element missing", expected: 9, actual: []any{1, 2, 3}, passed: false},
		{name: "map subset", expected: map[string]any{"a": 1}, actual: map[string]any{"a": 1, "b": 2}, passed: true},
		{name: "map subset value mismatch", expected: map[string]any{"a": 2}, actual: map[string]any{"a": 1}, passed: false},
		{name: "map subset missing key", expected: map[string]any{"c": 1}, actual: map[string]any{"a": 1}, passed: false},
		{name: "unsupported output type", expected: "x", actual: 42, passed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := Evaluate(models.Assertion{
				Kind:     models.AssertionKindContains,
				Expected: tt.expected,
			}, tt.actual, true)
			require.NoError(t, err)
			assert.Equal(t, tt.passed, verdict.Passed)

			if !tt.passed {
				assert.NotEmpty(t, verdict.Message)
			}
		})
	}
}

func TestEvaluateExists(t *testing.T) {
	verdict, err := Evaluate(models.Assertion{Kind: models.AssertionKindExists}, map[string]any{"x": 1}, true)
	require.NoError(t, err)
	assert.True(t, verdict.Passed)

	verdict, err = Evaluate(models.Assertion{Kind: models.AssertionKindExists}, nil, true)
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
}

func TestEvaluateCustomPredicates(t *testing.T) {
	tests := []struct {
		predicate string
		expected  any
		actual    any
		passed    bool
	}{
		{predicate: "gt", expected: 5, actual: 10, passed: true},
		{predicate: "gt", expected: 5, actual: 5, passed: false},
		{predicate: "gte", expected: 5, actual: 5, passed: true},
		{predicate: "lt", expected: 5, actual: 4, passed: true},
		{predicate: "lte", expected: 5, actual: 6, passed: false},
		{predicate: "ne", expected: 5, actual: 6, passed: true},
		{predicate: "ne", expected: 5, actual: 5, passed: false},
	}

	for _, tt := range tests {
		t.Run(tt.predicate, func(t *testing.T) {
			verdict, err := Evaluate(models.Assertion{
				Kind:      models.AssertionKindCustom,
				Predicate: tt.predicate,
				Expected:  tt.expected,
			}, tt.actual, true)
			require.NoError(t, err)
			assert.Equal(t, tt.passed, verdict.Passed)
		})
	}
}

func TestEvaluateCustomUnsupportedPredicate(t *testing.T) {
	_, err := Evaluate(models.Assertion{
		Kind:      models.AssertionKindCustom,
		Predicate: "matches-regex",
		Expected:  1,
	}, 2, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported custom predicate")
}

func TestEvaluateCustomNonNumericOutput(t *testing.T) {
	verdict, err := Evaluate(models.Assertion{
		Kind:      models.AssertionKindCustom,
		Predicate: "gt",
		Expected:  1,
	}, "not a number", true)
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
	assert.Contains(t, verdict.Message, "numeric")
}

func TestEvaluateUnknownKind(t *testing.T) {
	_, err := Evaluate(models.Assertion{Kind: "regex"}, "x", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported assertion kind")
}
