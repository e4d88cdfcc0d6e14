package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatorEvaluates(t *testing.T) {
	calc := NewCalculatorTool()

	cases := []struct {
		expression string
		want       float64
	}{
		{"2 + 3", 5},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"10 // 4", 2},
		{"10 % 3", 1},
		{"2 ** 10", 1024},
		{"2 ** 3 ** 2", 512}, // right associative
		{"-5 + 3", -2},
		{"-(2 + 3)", -5},
		{"1.5 * 2", 3},
		{"+7", 7},
	}
	for _, tc := range cases {
		result := calc.Invoke(context.Background(), map[string]interface{}{"expression": tc.expression})
		require.True(t, result.Success, "%s: %s", tc.expression, result.Error)
		assert.Equal(t, tc.want, result.Output, tc.expression)
	}
}

func TestCalculatorRejectsInvalidInput(t *testing.T) {
	calc := NewCalculatorTool()

	cases := []map[string]interface{}{
		{"expression": "1 / 0"},
		{"expression": "10 // 0"},
		{"expression": "2 +"},
		{"expression": "import os"},
		{"expression": "(1 + 2"},
		{"expression": "1..2 + 3"},
		{"expression": ""},
		{},
	}
	for _, args := range cases {
		result := calc.Invoke(context.Background(), args)
		assert.False(t, result.Success, "%v", args)
		assert.NotEmpty(t, result.Error)
	}
}
