package tools

import (
	"context"
	"testing"
)

func TestCalculateToolEvaluatesArithmetic(t *testing.T) {
	tool := NewCalculateTool(nil)

	cases := []struct {
		expr string
		want string
	}{
		{"(3 + 4) * 2", "14"},
		{"10 / 4", "2.5"},
		{"-2 + 5", "3"},
		{"2 ^ 10", "1024"},
		{"7 % 3", "1"},
	}

	for _, c := range cases {
		res := tool.Execute(context.Background(), map[string]interface{}{"expression": c.expr})
		if res.IsError {
			t.Fatalf("expression %q: unexpected error result: %s", c.expr, res.ForLLM)
		}
		if res.ForLLM != c.want {
			t.Fatalf("expression %q: want %q, got %q", c.expr, c.want, res.ForLLM)
		}
	}
}

func TestCalculateToolRejectsNonArithmetic(t *testing.T) {
	tool := NewCalculateTool(nil)

	for _, expr := range []string{"os.Exit(1)", "1 / 0", "a + b", ""} {
		res := tool.Execute(context.Background(), map[string]interface{}{"expression": expr})
		if !res.IsError {
			t.Fatalf("expression %q: expected error result, got %q", expr, res.ForLLM)
		}
	}
}

func TestCalculateToolMissingExpression(t *testing.T) {
	tool := NewCalculateTool(nil)
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError {
		t.Fatalf("expected error result for missing expression")
	}
}
