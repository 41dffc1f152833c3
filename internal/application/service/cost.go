package service

import "github.com/shopspring/decimal"

var tokensPerRateUnit = decimal.NewFromInt(1_000_000)

// CostEstimator converts token usage into whole cents
type CostEstimator struct {
	inputRate  decimal.Decimal
	outputRate decimal.Decimal
}

// NewCostEstimator takes rates in cents per million tokens
func NewCostEstimator(inputCentsPerMillion, outputCentsPerMillion float64) *CostEstimator {
	return &CostEstimator{
		inputRate:  decimal.NewFromFloat(inputCentsPerMillion),
		outputRate: decimal.NewFromFloat(outputCentsPerMillion),
	}
}

// CostCents returns the cost of one call rounded up to the next whole cent.
// Negative counts are treated as zero.
func (c *CostEstimator) CostCents(tokensIn, tokensOut int) int64 {
	if tokensIn < 0 {
		tokensIn = 0
	}
	if tokensOut < 0 {
		tokensOut = 0
	}
	total := decimal.NewFromInt(int64(tokensIn)).Mul(c.inputRate).
		Add(decimal.NewFromInt(int64(tokensOut)).Mul(c.outputRate))
	return total.Div(tokensPerRateUnit).Ceil().IntPart()
}
