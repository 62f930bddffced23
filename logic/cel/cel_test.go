package cel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"achievekit/core"
)

func TestApply(t *testing.T) {
	eval := New()

	ok, err := eval.Apply(Expr("score >= 80.0 && passed"), map[string]any{"score": 95.0, "passed": true})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = eval.Apply(Expr("score >= 80.0"), map[string]any{"score": 40.0})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestApplyNonBoolean(t *testing.T) {
	eval := New()
	_, err := eval.Apply(Expr("score + 1.0"), map[string]any{"score": 1.0})
	require.Error(t, err)
	require.True(t, core.IsValidation(err))
}

func TestApplyMissingSource(t *testing.T) {
	eval := New()
	_, err := eval.Apply(core.LogicExpr{"and": []any{}}, nil)
	require.True(t, core.IsValidation(err))
}
