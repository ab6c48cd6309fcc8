package auction

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrClearingNotFinalized is returned when settlement is requested before
// the auction's clearing outcome was confirmed on-chain. Allocation against
// a provisional result would produce wrong refunds; this is always fatal.
var ErrClearingNotFinalized = errors.New("settlement: clearing result not finalized")

// Settlement is one order's share of the auction outcome.
type Settlement struct {
	// Refund is the bidding-token capital returned to the bidder.
	Refund *big.Int

	// Reward is the auctioned-token amount the bidder receives.
	Reward *big.Int

	// Spent is the bidding-token amount actually converted,
	// sellAmount - refund.
	Spent *big.Int
}

// Allocate computes the refund and reward for one claimed order against a
// finalized clearing result, replicating the contract's claim rule:
//
//   - threshold not met: full refund, no reward
//   - the clearing order itself: pro-rata fill from the partial volume
//   - orders priced above the clearing order: fully filled at the clearing
//     price
//   - orders priced below: fully refunded
func Allocate(o Order, clearing *Result) (Settlement, error) {
	if clearing == nil || !clearing.Finalized {
		return Settlement{}, ErrClearingNotFinalized
	}

	sell := o.SellAmount

	if !clearing.MinFundingMet {
		return Settlement{
			Refund: new(big.Int).Set(sell),
			Reward: new(big.Int),
			Spent:  new(big.Int),
		}, nil
	}

	co := clearing.ClearingOrder
	if co.SellAmount.Sign() == 0 {
		return Settlement{}, fmt.Errorf("settlement: clearing order sellAmount is zero for auction %d", o.AuctionID)
	}

	if o.Equal(co) {
		// The marginal order: filled only up to the clearing volume.
		reward := new(big.Int).Mul(clearing.VolumeAtClearingPrice, co.BuyAmount)
		reward.Div(reward, co.SellAmount)
		refund := new(big.Int).Sub(sell, clearing.VolumeAtClearingPrice)
		return Settlement{
			Refund: refund,
			Reward: reward,
			Spent:  new(big.Int).Sub(sell, refund),
		}, nil
	}

	if SmallerThan(o, co) {
		// "Smaller" than the clearing order means priced above it: the
		// whole sellAmount converts at the clearing price.
		reward := new(big.Int).Mul(sell, co.BuyAmount)
		reward.Div(reward, co.SellAmount)
		return Settlement{
			Refund: new(big.Int),
			Reward: reward,
			Spent:  new(big.Int).Set(sell),
		}, nil
	}

	// Priced out entirely.
	return Settlement{
		Refund: new(big.Int).Set(sell),
		Reward: new(big.Int),
		Spent:  new(big.Int),
	}, nil
}
