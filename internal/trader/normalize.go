package trader

import (
	"fmt"
	"math"
	"math/big"
)

const priceScale = 100000000 // 8-decimal fixed point

// roundTo8 collapses binary float noise to the exchange's 8-decimal
// precision.
func roundTo8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// FloorStep floors a quantity to the nearest multiple of the lot step.
func FloorStep(qty, step float64) float64 {
	if step <= 0 {
		return roundTo8(qty)
	}
	steps := math.Floor(qty/step + 1e-9)
	return roundTo8(steps * step)
}

// CeilStep raises a quantity to the nearest multiple of the lot step.
func CeilStep(qty, step float64) float64 {
	if step <= 0 {
		return roundTo8(qty)
	}
	steps := math.Ceil(qty/step - 1e-9)
	return roundTo8(steps * step)
}

// RoundTick rounds a price to the nearest multiple of the tick size.
func RoundTick(price, tick float64) float64 {
	if tick <= 0 {
		return roundTo8(price)
	}
	return roundTo8(math.Round(price/tick) * tick)
}

// NormalizeQuantity clamps a raw quantity into the symbol's [minQty, maxQty]
// range and floors it to the lot step. The result can fall under minQty when
// minQty itself is not step-aligned; callers must treat a value below minQty
// as unorderable.
func NormalizeQuantity(raw, minQty, maxQty, stepSize float64) float64 {
	q := raw
	if q < minQty {
		q = minQty
	}
	if maxQty > 0 && q > maxQty {
		q = maxQty
	}
	return FloorStep(q, stepSize)
}

// TargetSellPrice computes the sell limit that yields profitPercent over the
// buy price, evaluated in 8-decimal fixed point: the buy price is scaled by
// 1e8, divided by (100-profitPercent)/100, floored to an integer and scaled
// back. Exact rational arithmetic avoids float drift on non-terminating
// ratios.
func TargetSellPrice(buyPrice, profitPercent float64) float64 {
	scaled := new(big.Rat).SetFloat64(buyPrice)
	scaled.Mul(scaled, big.NewRat(priceScale, 1))

	ratio := new(big.Rat).SetFloat64(100 - profitPercent)
	ratio.Quo(ratio, big.NewRat(100, 1))
	scaled.Quo(scaled, ratio)

	floored := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	result := new(big.Rat).SetInt(floored)
	result.Quo(result, big.NewRat(priceScale, 1))

	f, _ := result.Float64()
	return f
}

// StopPrices derives the stop trigger and stop-limit prices from the buy
// price. stopLossPercent is negative; the buffer pushes the limit slightly
// under the trigger so the stop order can actually rest on the book.
func StopPrices(buyPrice, stopLossPercent, stopLimitBuffer float64) (stopPrice, stopLimitPrice float64) {
	stopPrice = buyPrice * (1 + stopLossPercent/100)
	stopLimitPrice = stopPrice * (1 - stopLimitBuffer)
	return stopPrice, stopLimitPrice
}

// CapitalRecoverySplit computes the minimum step-aligned sell quantity that,
// sold at targetPrice, recovers the invested notional and clears the
// exchange's minimum-notional filter. The remainder is retained as profit in
// kind. The sell side is capped at 99% of the bought quantity so a residual
// is always kept; an error means no order should be placed at all.
func CapitalRecoverySplit(boughtQty, buyPrice, targetPrice, minNotional, stepSize float64) (sellQty, keptQty float64, err error) {
	if boughtQty <= 0 || buyPrice <= 0 || targetPrice <= 0 {
		return 0, 0, fmt.Errorf("invalid split inputs: qty=%.8f buy=%.8f target=%.8f", boughtQty, buyPrice, targetPrice)
	}
	if boughtQty*targetPrice < minNotional {
		return 0, 0, fmt.Errorf("full position value %.8f cannot clear minimum notional %.8f", boughtQty*targetPrice, minNotional)
	}

	invested := boughtQty * buyPrice
	required := invested
	if minNotional > required {
		required = minNotional
	}

	sellQty = CeilStep(required/targetPrice, stepSize)
	maxSell := FloorStep(boughtQty*0.99, stepSize)
	if sellQty > maxSell {
		sellQty = maxSell
	}
	if sellQty <= 0 {
		return 0, 0, fmt.Errorf("sell quantity rounds to zero for step %.8f", stepSize)
	}
	if sellQty*targetPrice+1e-9 < minNotional {
		return 0, 0, fmt.Errorf("capped sell notional %.8f under minimum %.8f", sellQty*targetPrice, minNotional)
	}

	keptQty = roundTo8(boughtQty - sellQty)
	return sellQty, keptQty, nil
}
