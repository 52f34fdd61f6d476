package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"mini":   {Input: 0.15, Output: 0.60, BatchDiscount: 0.5},
			"haiku":  {Input: 0.80, Output: 4.00, BatchDiscount: 0.5},
			"nodisc": {Input: 1.00, Output: 2.00},
		},
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name    string
		model   string
		isBatch bool
		input   int64
		output  int64
		want    float64
	}{
		{
			name: "mini non-batch", model: "mini",
			input: 1_000_000, output: 1_000_000,
			want: 0.15 + 0.60,
		},
		{
			name: "mini batch 50% discount", model: "mini", isBatch: true,
			input: 1_000_000, output: 1_000_000,
			want: (0.15 + 0.60) * 0.5,
		},
		{
			name: "haiku batch", model: "haiku", isBatch: true,
			input: 2_000_000, output: 500_000,
			want: (1.60 + 2.00) * 0.5,
		},
		{
			name: "no discount configured", model: "nodisc", isBatch: true,
			input: 1_000_000, output: 1_000_000,
			want: 3.00,
		},
		{
			name: "unknown model", model: "gpt-9",
			input: 1_000_000, output: 1_000_000,
			want: 0,
		},
		{
			name: "zero tokens", model: "mini",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Tokens(tt.model, tt.isBatch, tt.input, tt.output)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestKnown(t *testing.T) {
	calc := NewCalculator(DefaultRates())
	assert.True(t, calc.Known("gpt-4o-mini"))
	assert.True(t, calc.Known("claude-haiku-4-5-20251001"))
	assert.False(t, calc.Known("davinci"))
}

func TestDefaultRates(t *testing.T) {
	rates := DefaultRates()
	for name, r := range rates.Models {
		assert.Positive(t, r.Input, name)
		assert.Greater(t, r.Output, r.Input, name)
		assert.InDelta(t, 0.5, r.BatchDiscount, 1e-9, name)
	}
}
