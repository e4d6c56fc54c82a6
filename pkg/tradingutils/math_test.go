package tradingutils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBandLevels(t *testing.T) {
	base, band := d("100"), d("3")

	assert.True(t, BuyLevel(base, band).Equal(d("97")))
	sell := SellLevel(base, band)
	assert.True(t, sell.GreaterThan(d("103.09")) && sell.LessThan(d("103.093")), sell.String())
	// never the additive band
	assert.False(t, sell.Equal(d("103")))
}

func TestBandLevels_AreInverse(t *testing.T) {
	for _, band := range []string{"0.5", "1", "3", "7.25", "20"} {
		base := d("1234.55")
		up := SellLevel(BuyLevel(base, d(band)), d(band))
		assert.True(t, up.Sub(base).Abs().LessThan(d("0.000001")), "band %s: %s", band, up)
	}
}

func TestDayChangePercent(t *testing.T) {
	assert.True(t, DayChangePercent(d("95"), d("100")).Equal(d("-5")))
	assert.True(t, DayChangePercent(d("101"), d("100")).Equal(d("1")))
	assert.True(t, DayChangePercent(d("101"), decimal.Zero).IsZero())
}

func TestApproxProfit(t *testing.T) {
	assert.True(t, ApproxProfit(2, 3, d("40")).Equal(d("200")))
	assert.True(t, ApproxProfit(0, 0, d("40")).IsZero())
}
