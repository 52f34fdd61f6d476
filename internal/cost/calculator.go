// Package cost estimates what a batch submission will cost.
package cost

// Rates holds per-model pricing.
type Rates struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Known reports whether the model has a rate.
func (c *Calculator) Known(model string) bool {
	_, ok := c.rates.Models[model]
	return ok
}

// Tokens computes the cost of a call. Unknown models cost 0.
func (c *Calculator) Tokens(model string, isBatch bool, input, output int64) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}

	batchMul := 1.0
	if isBatch && rate.BatchDiscount > 0 {
		batchMul = rate.BatchDiscount
	}

	inCost := (float64(input) / 1e6) * rate.Input * batchMul
	outCost := (float64(output) / 1e6) * rate.Output * batchMul
	return inCost + outCost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"gpt-4o-mini":                {Input: 0.15, Output: 0.60, BatchDiscount: 0.5},
			"gpt-4o":                     {Input: 2.50, Output: 10.00, BatchDiscount: 0.5},
			"gpt-4.1-mini":               {Input: 0.40, Output: 1.60, BatchDiscount: 0.5},
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00, BatchDiscount: 0.5},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, BatchDiscount: 0.5},
		},
	}
}
