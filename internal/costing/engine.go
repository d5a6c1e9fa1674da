// Package costing implements weighted-average-cost arithmetic for stock
// valuation. All functions are pure; persistence is handled by Service.
package costing

import "github.com/shopspring/decimal"

// Monetary values carry 2 fractional digits; intermediate divisions keep 4
// digits so repeated partial transfers do not compound rounding error.
const (
	costScale         = 2
	intermediateScale = 4
)

// Lot pairs a quantity with its unit cost.
type Lot struct {
	Qty  int64
	Cost decimal.Decimal
}

// BlendCost merges an incoming lot into the current holding and returns the
// new weighted-average unit cost, rounded half-up to 2 decimal places. A zero
// combined quantity yields 0.
func BlendCost(currentQty int64, currentCost decimal.Decimal, incomingQty int64, incomingCost decimal.Decimal) decimal.Decimal {
	total := currentQty + incomingQty
	if total == 0 {
		return decimal.Zero
	}
	currentValue := currentCost.Mul(decimal.NewFromInt(currentQty))
	incomingValue := incomingCost.Mul(decimal.NewFromInt(incomingQty))
	blended := currentValue.Add(incomingValue).DivRound(decimal.NewFromInt(total), intermediateScale)
	return blended.Round(costScale)
}

// WeightedAverage computes the quantity-weighted mean cost across lots,
// rounded half-up to 2 decimal places. Lots with zero quantity contribute
// nothing; an empty or zero-quantity set yields 0.
func WeightedAverage(lots []Lot) decimal.Decimal {
	var totalQty int64
	totalValue := decimal.Zero
	for _, lot := range lots {
		if lot.Qty <= 0 {
			continue
		}
		totalQty += lot.Qty
		totalValue = totalValue.Add(lot.Cost.Mul(decimal.NewFromInt(lot.Qty)))
	}
	if totalQty == 0 {
		return decimal.Zero
	}
	return totalValue.DivRound(decimal.NewFromInt(totalQty), intermediateScale).Round(costScale)
}
