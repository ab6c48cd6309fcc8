package auction

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// priceDivisionPrecision is the number of decimal digits kept when the
// sell/buy ratio does not divide exactly. Comparisons between orders never
// go through this division (they cross-multiply integers), so the precision
// only affects the human-readable price on derived entities.
const priceDivisionPrecision = 34

// PricePoint converts raw on-chain amounts into the exact decimal price and
// volume stored on an order entity.
//
//	price  = (sellAmount / buyAmount) * 10^(decimalsBuy - decimalsSell)
//	volume = sellAmount / 10^decimalsSell
//
// A zero buyAmount is the contract's sentinel for "no order" and yields
// price 0, volume 1. The sentinel predates this indexer and is preserved
// as-is for compatibility with existing derived data.
func PricePoint(sellAmount, buyAmount *big.Int, decimalsBuy, decimalsSell int32) (price, volume decimal.Decimal) {
	if buyAmount.Sign() == 0 {
		return decimal.Zero, decimal.NewFromInt(1)
	}

	// Scale before dividing so the single division is the only place any
	// rounding can occur.
	num := decimal.NewFromBigInt(new(big.Int).Set(sellAmount), decimalsBuy-decimalsSell)
	den := decimal.NewFromBigInt(new(big.Int).Set(buyAmount), 0)
	price = num.DivRound(den, priceDivisionPrecision)

	volume = decimal.NewFromBigInt(new(big.Int).Set(sellAmount), -decimalsSell)
	return price, volume
}
