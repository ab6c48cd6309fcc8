package auction

import (
	"errors"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrNoActiveOrders is returned when clearing is requested for an auction
// with no live bids. Callers treat it as a no-op: existing clearing fields
// stay untouched.
var ErrNoActiveOrders = errors.New("clearing: no active orders")

// ErrZeroAuctioningSupply is returned when the auction offers zero tokens.
// The on-chain contract can never emit such an auction; a zero here means
// corrupted input and must halt rather than divide by zero.
var ErrZeroAuctioningSupply = errors.New("clearing: auctioning supply is zero")

// InitialOrder is the auctioneer's side of the book: the token supply being
// sold and the minimum bidding-token amount that must be raised.
type InitialOrder struct {
	AuctioningSupply *big.Int // auctioned tokens for sale
	MinimumRaise     *big.Int // bidding tokens sought at minimum
}

// Result is the outcome of clearing one auction.
type Result struct {
	// ClearingOrder is the marginal order, or a synthetic reference order
	// (userId 0, buyAmount = supply) when no single bid is marginal.
	ClearingOrder Order

	// Price is the uniform clearing price every filled order pays.
	Price decimal.Decimal

	// VolumeAtClearingPrice is the partially filled sellAmount of the
	// marginal order. Zero when the marginal order is not partially filled.
	VolumeAtClearingPrice *big.Int

	// BiddingTotal is the bidding-token sum accumulated up to and including
	// the marginal order.
	BiddingTotal *big.Int

	// MinFundingMet is false when the auction failed its funding threshold
	// and every bidder is refunded in full.
	MinFundingMet bool

	// Finalized is set once the on-chain settlement event confirmed this
	// result. Settlement allocation refuses non-finalized results.
	Finalized bool
}

// FindClearingPrice reproduces the contract's settlement rule from the set
// of active (neither cancelled nor claimed) orders.
//
// Orders are sorted from highest implied price to lowest under the clearing
// comparator and walked while accumulating bidding-token volume. The first
// order whose own price is covered by the accumulated volume is marginal.
// All comparisons cross-multiply integers; the only divisions are the final
// pro-rata fills.
//
// The computation is a pure function of (initial order, order values): it
// is independent of insertion order and safe to re-run from scratch on
// every event.
func FindClearingPrice(initial InitialOrder, orders []Order, decimalsAuctioning, decimalsBidding int32) (*Result, error) {
	supply := initial.AuctioningSupply
	if supply == nil || supply.Sign() == 0 {
		return nil, ErrZeroAuctioningSupply
	}
	if len(orders) == 0 {
		return nil, ErrNoActiveOrders
	}

	sorted := make([]Order, len(orders))
	copy(sorted, orders)
	// Highest price first: under the comparator the "smaller" order is the
	// higher-priced bid, so ascending comparator order is best-price-first.
	sort.Slice(sorted, func(i, j int) bool {
		return SmallerThan(sorted[i], sorted[j])
	})

	auctionID := sorted[0].AuctionID
	bidSum := new(big.Int)
	var marginal *Order

	for i := range sorted {
		o := &sorted[i]
		bidSum.Add(bidSum, o.SellAmount)

		// bidSum / supply >= o.sell / o.buy, cross-multiplied.
		lhs := new(big.Int).Mul(bidSum, o.BuyAmount)
		rhs := new(big.Int).Mul(o.SellAmount, supply)
		if lhs.Cmp(rhs) >= 0 {
			marginal = o
			break
		}
	}

	if marginal != nil {
		// Demand meets or exceeds supply at the marginal order's price.
		fullFill := new(big.Int).Mul(supply, marginal.SellAmount)
		fullFill.Div(fullFill, marginal.BuyAmount)
		uncovered := new(big.Int).Sub(bidSum, fullFill)

		if marginal.SellAmount.Cmp(uncovered) > 0 {
			// Marginal order partially filled at its own price.
			price, _ := PricePoint(marginal.SellAmount, marginal.BuyAmount, decimalsAuctioning, decimalsBidding)
			return &Result{
				ClearingOrder:         *marginal,
				Price:                 price,
				VolumeAtClearingPrice: new(big.Int).Sub(marginal.SellAmount, uncovered),
				BiddingTotal:          bidSum,
				MinFundingMet:         bidSum.Cmp(initial.MinimumRaise) >= 0,
			}, nil
		}

		// The bids above the marginal order already absorb the supply;
		// the price is set by them and the marginal order drops out.
		refSell := new(big.Int).Sub(bidSum, marginal.SellAmount)
		price, _ := PricePoint(refSell, supply, decimalsAuctioning, decimalsBidding)
		return &Result{
			ClearingOrder: Order{
				AuctionID:  auctionID,
				UserID:     0,
				BuyAmount:  new(big.Int).Set(supply),
				SellAmount: refSell,
			},
			Price:                 price,
			VolumeAtClearingPrice: new(big.Int),
			BiddingTotal:          bidSum,
			MinFundingMet:         bidSum.Cmp(initial.MinimumRaise) >= 0,
		}, nil
	}

	if bidSum.Cmp(initial.MinimumRaise) >= 0 {
		// Undersubscribed but funded: every bid is filled in full and the
		// price is set by total demand against the whole supply.
		price, _ := PricePoint(bidSum, supply, decimalsAuctioning, decimalsBidding)
		return &Result{
			ClearingOrder: Order{
				AuctionID:  auctionID,
				UserID:     0,
				BuyAmount:  new(big.Int).Set(supply),
				SellAmount: new(big.Int).Set(bidSum),
			},
			Price:                 price,
			VolumeAtClearingPrice: new(big.Int),
			BiddingTotal:          bidSum,
			MinFundingMet:         true,
		}, nil
	}

	// Below the funding threshold: the auction voids and the reference
	// price is the auctioneer's own minimum.
	price, _ := PricePoint(initial.MinimumRaise, supply, decimalsAuctioning, decimalsBidding)
	proRated := new(big.Int).Mul(bidSum, supply)
	proRated.Div(proRated, initial.MinimumRaise)
	return &Result{
		ClearingOrder: Order{
			AuctionID:  auctionID,
			UserID:     0,
			BuyAmount:  new(big.Int).Set(supply),
			SellAmount: new(big.Int).Set(initial.MinimumRaise),
		},
		Price:                 price,
		VolumeAtClearingPrice: proRated,
		BiddingTotal:          bidSum,
		MinFundingMet:         false,
	}, nil
}
