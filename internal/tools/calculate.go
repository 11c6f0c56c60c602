package tools

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log/slog"
	"math"

	"github.com/starpig1129/pigpig-core/internal/telemetry"
)

// CalculateTool implements the "calculate" tool the dispatcher's default
// dependency map reserves for arithmetic requests. The original delegated
// the expression to a standalone math cog; here the same narrow contract
// (a string expression in, a string result out, errors reported rather
// than panicking) is served by evaluating the expression directly against
// a restricted grammar (numbers, + - * / % ^, parens, unary minus) instead
// of shelling out to an external calculator process.
type CalculateTool struct {
	reporter telemetry.ErrorReporter
}

func NewCalculateTool(reporter telemetry.ErrorReporter) *CalculateTool {
	if reporter == nil {
		reporter = telemetry.FromContext(context.Background())
	}
	return &CalculateTool{reporter: reporter}
}

func (t *CalculateTool) Name() string { return "calculate" }

func (t *CalculateTool) Description() string {
	return "Evaluate an arithmetic expression and return the numeric result."
}

func (t *CalculateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"expression": map[string]interface{}{
				"type":        "string",
				"description": "Arithmetic expression, e.g. \"(3 + 4) * 2\"",
			},
		},
		"required": []string{"expression"},
	}
}

func (t *CalculateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	expr, _ := args["expression"].(string)
	if expr == "" {
		return ErrorResult("expression is required")
	}

	slog.Info("calculate called", "expression", expr)

	value, err := evalExpression(expr)
	if err != nil {
		t.reporter.ReportError("tools.calculate", fmt.Errorf("evaluate %q: %w", expr, err), map[string]any{"expression": expr})
		return ErrorResult(fmt.Sprintf("could not evaluate %q: %v", expr, err))
	}
	return NewResult(formatNumber(value))
}

// evalExpression parses expr as a Go expression and walks the resulting AST,
// rejecting anything beyond numeric literals, the four arithmetic operators,
// '%', '^' (evaluated as power), unary minus/plus, and parentheses — no
// identifiers, calls, or other
// constructs reach the evaluator.
func evalExpression(expr string) (float64, error) {
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return 0, fmt.Errorf("invalid expression: %w", err)
	}
	return evalNode(node)
}

func evalNode(n ast.Expr) (float64, error) {
	switch v := n.(type) {
	case *ast.BasicLit:
		if v.Kind != token.INT && v.Kind != token.FLOAT {
			return 0, fmt.Errorf("unsupported literal %q", v.Value)
		}
		var f float64
		if _, err := fmt.Sscanf(v.Value, "%g", &f); err != nil {
			return 0, fmt.Errorf("unparsable number %q", v.Value)
		}
		return f, nil
	case *ast.ParenExpr:
		return evalNode(v.X)
	case *ast.UnaryExpr:
		x, err := evalNode(v.X)
		if err != nil {
			return 0, err
		}
		switch v.Op {
		case token.SUB:
			return -x, nil
		case token.ADD:
			return x, nil
		default:
			return 0, fmt.Errorf("unsupported unary operator %s", v.Op)
		}
	case *ast.BinaryExpr:
		x, err := evalNode(v.X)
		if err != nil {
			return 0, err
		}
		y, err := evalNode(v.Y)
		if err != nil {
			return 0, err
		}
		switch v.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return x / y, nil
		case token.REM:
			return math.Mod(x, y), nil
		case token.XOR:
			return math.Pow(x, y), nil
		default:
			return 0, fmt.Errorf("unsupported operator %s", v.Op)
		}
	default:
		return 0, fmt.Errorf("unsupported expression")
	}
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && !math.IsInf(v, 0) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
