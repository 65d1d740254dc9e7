package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvalExpressionBasicArithmetic(t *testing.T) {
	cases := map[string]float64{
		"2 + 3 * 4":    14,
		"(2 + 3) * 4":  20,
		"100 / 5":      20,
		"10 % 3":       1,
		"-5 + 10":      5,
		"2 + (3 * -4)": -10,
	}
	for expr, want := range cases {
		got, err := evalExpression(expr)
		require.NoError(t, err, expr)
		require.InDelta(t, want, got, 1e-9, expr)
	}
}

func TestEvalExpressionDivisionByZero(t *testing.T) {
	_, err := evalExpression("1 / 0")
	require.Error(t, err)
}

func TestEvalExpressionMalformedExpression(t *testing.T) {
	_, err := evalExpression("2 + ")
	require.Error(t, err)
}

func TestEvalExpressionTrailingGarbage(t *testing.T) {
	_, err := evalExpression("2 + 2 foo")
	require.Error(t, err)
}

func TestCalculatorHandlerReturnsFormattedResult(t *testing.T) {
	out, err := calculatorHandler(context.Background(), Context{}, map[string]any{"expression": "6 * 7"})
	require.NoError(t, err)

	payload, ok := out.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "success", payload["status"])
	require.InDelta(t, 42, payload["result"], 1e-9)
}

func TestCalculatorHandlerRequiresExpression(t *testing.T) {
	_, err := calculatorHandler(context.Background(), Context{}, map[string]any{})
	require.Error(t, err)
}
