package strategy

import "github.com/shopspring/decimal"

// RoundToIncrement rounds price to the nearest multiple of increment,
// half away from zero on price/increment. A non-positive increment returns
// price unchanged.
func RoundToIncrement(price, increment float64) float64 {
	if increment <= 0 {
		return price
	}
	inc := decimal.NewFromFloat(increment)
	rounded, _ := decimal.NewFromFloat(price).Div(inc).Round(0).Mul(inc).Float64()
	return rounded
}
