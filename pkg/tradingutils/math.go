// Package tradingutils holds the percentage-band arithmetic shared by the engine and reconciler
package tradingutils

import (
	"github.com/shopspring/decimal"
)

// PriceDecimals is the precision kept for stored base prices
const PriceDecimals = 8

var hundred = decimal.NewFromInt(100)

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// BuyLevel is the price at or below which a new lot is bought: base·(100−band)/100
func BuyLevel(base, band decimal.Decimal) decimal.Decimal {
	return RoundPrice(base.Mul(hundred.Sub(band)).Div(hundred), PriceDecimals)
}

// SellLevel is the price at or above which a lot is sold: base·100/(100−band).
// It is the exact inverse of BuyLevel, not base·(100+band)/100.
func SellLevel(base, band decimal.Decimal) decimal.Decimal {
	return RoundPrice(base.Mul(hundred).Div(hundred.Sub(band)), PriceDecimals)
}

// DayChangePercent returns (last − prevClose)/prevClose × 100
func DayChangePercent(last, prevClose decimal.Decimal) decimal.Decimal {
	if prevClose.IsZero() {
		return decimal.Zero
	}
	return last.Sub(prevClose).Div(prevClose).Mul(hundred)
}

// ApproxProfit estimates a session's profit as (ratchets + sells) × profit per step
func ApproxProfit(ratchets, sells int, profitPerStep decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(ratchets + sells)).Mul(profitPerStep)
}
