// Package tradingutils holds small decimal-math helpers shared across the
// execution and risk packages.
package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to a product's price decimals.
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// RoundQuantity rounds a base size down to a product's lot size, never up
// — rounding a sell size up could submit more than is actually held.
func RoundQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	return qty.RoundDown(int32(qtyDecimals))
}

// FloorToLotSize floors qty down to the nearest multiple of lotSize, never
// up — matches exchange behavior that rejects sizes finer than the
// product's step size.
func FloorToLotSize(qty, lotSize decimal.Decimal) decimal.Decimal {
	if lotSize.IsZero() {
		return qty
	}
	steps := qty.Div(lotSize).Floor()
	return steps.Mul(lotSize)
}

// CalculateNetProfit computes round-trip profit after both legs' fees.
func CalculateNetProfit(buyPrice, sellPrice, buyFeeRate, sellFeeRate decimal.Decimal) decimal.Decimal {
	grossProfit := sellPrice.Sub(buyPrice)
	buyFee := buyPrice.Mul(buyFeeRate)
	sellFee := sellPrice.Mul(sellFeeRate)
	return grossProfit.Sub(buyFee).Sub(sellFee)
}

// SizeFromNotional converts a quote-currency notional into a base-currency
// size at the given price, the size_in_quote inverse used when an order's
// size_in_quote flag is true.
func SizeFromNotional(notional, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return notional.Div(price)
}
