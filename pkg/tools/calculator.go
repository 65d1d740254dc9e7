package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gryagbot/gryag/pkg/llm"
)

// RegisterCalculatorTool wires the calculator tool into reg. Adapted
// directly from the teacher's recursive-descent evaluator
// (pkg/agents/tools/calculator.go), generalized away from its *Result
// return type to this package's plain (any, error) Handler shape.
func RegisterCalculatorTool(reg *Registry) {
	reg.Register(calculatorDefinition(), calculatorHandler)
}

func calculatorDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "calculator",
		Description: "Perform basic arithmetic calculations. Supports addition, subtraction, multiplication, division, modulo, and parentheses.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "A mathematical expression to evaluate, e.g. '2 + 3 * 4' or '100 / 5'",
				},
			},
			"required": []string{"expression"},
		},
	}
}

func calculatorHandler(ctx context.Context, injected Context, args map[string]any) (any, error) {
	expr, err := readString(args, "expression", true)
	if err != nil {
		return nil, err
	}

	result, err := evalExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("calculation error: %w", err)
	}

	return successResult(map[string]any{
		"expression": expr,
		"result":     result,
		"formatted":  fmt.Sprintf("%.6g", result),
	}), nil
}

// evalExpression evaluates a simple arithmetic expression.
// Supports: +, -, *, /, %, and parentheses.
func evalExpression(expr string) (float64, error) {
	expr = strings.ReplaceAll(expr, " ", "")
	if expr == "" {
		return 0, fmt.Errorf("empty expression")
	}

	pos := 0
	result, err := parseExpression(expr, &pos)
	if err != nil {
		return 0, err
	}
	if pos != len(expr) {
		return 0, fmt.Errorf("unexpected character at position %d", pos)
	}
	return result, nil
}

func parseExpression(expr string, pos *int) (float64, error) {
	result, err := parseTerm(expr, pos)
	if err != nil {
		return 0, err
	}

	for *pos < len(expr) {
		op := expr[*pos]
		if op != '+' && op != '-' {
			break
		}
		*pos++
		right, err := parseTerm(expr, pos)
		if err != nil {
			return 0, err
		}
		if op == '+' {
			result += right
		} else {
			result -= right
		}
	}
	return result, nil
}

func parseTerm(expr string, pos *int) (float64, error) {
	result, err := parseFactor(expr, pos)
	if err != nil {
		return 0, err
	}

	for *pos < len(expr) {
		op := expr[*pos]
		if op != '*' && op != '/' && op != '%' {
			break
		}
		*pos++
		right, err := parseFactor(expr, pos)
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			result *= right
		case '/':
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			result /= right
		case '%':
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			result = math.Mod(result, right)
		}
	}
	return result, nil
}

func parseFactor(expr string, pos *int) (float64, error) {
	if *pos >= len(expr) {
		return 0, fmt.Errorf("unexpected end of expression")
	}

	if expr[*pos] == '(' {
		*pos++
		result, err := parseExpression(expr, pos)
		if err != nil {
			return 0, err
		}
		if *pos >= len(expr) || expr[*pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		*pos++
		return result, nil
	}

	negative := false
	if expr[*pos] == '-' {
		negative = true
		*pos++
	}

	start := *pos
	for *pos < len(expr) && (isDigit(expr[*pos]) || expr[*pos] == '.') {
		*pos++
	}

	if start == *pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}

	num, err := strconv.ParseFloat(expr[start:*pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", expr[start:*pos])
	}

	if negative {
		num = -num
	}
	return num, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
