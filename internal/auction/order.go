package auction

import (
	"fmt"
	"math/big"
)

// Order is a single sell order (bid) in a batch auction: the bidder offers
// SellAmount of the bidding token and asks for BuyAmount of the auctioned
// token, implying a limit price of SellAmount/BuyAmount.
type Order struct {
	AuctionID  uint64
	UserID     uint64
	BuyAmount  *big.Int // auctioned token requested
	SellAmount *big.Int // bidding token offered
}

// ID returns the canonical order identity: the 4-tuple
// (auctionId, sellAmount, buyAmount, userId). Two orders with the same
// tuple are the same order.
func (o Order) ID() string {
	return fmt.Sprintf("%d-%s-%s-%d", o.AuctionID, o.SellAmount.String(), o.BuyAmount.String(), o.UserID)
}

// Equal reports whether two orders are the same bid (buyAmount, sellAmount
// and userId all equal). This is the match rule the contract applies when
// it reports the clearing order back in an event.
func (o Order) Equal(other Order) bool {
	return o.UserID == other.UserID &&
		o.BuyAmount.Cmp(other.BuyAmount) == 0 &&
		o.SellAmount.Cmp(other.SellAmount) == 0
}

// SmallerThan replicates the on-chain clearing comparator bit for bit.
// Order a is smaller than b iff
//
//	a.buyAmount * b.sellAmount < b.buyAmount * a.sellAmount
//
// ties broken by smaller buyAmount, then smaller userId. A lower buy/sell
// ratio is a HIGHER implied sell/buy price, so the "smallest" order is the
// best bid and clearing walks orders from smaller to not-smaller. This
// ordering is authoritative for settlement and must not be swapped for the
// display ranking below.
func SmallerThan(a, b Order) bool {
	lhs := new(big.Int).Mul(a.BuyAmount, b.SellAmount)
	rhs := new(big.Int).Mul(b.BuyAmount, a.SellAmount)
	if c := lhs.Cmp(rhs); c != 0 {
		return c < 0
	}
	if c := a.BuyAmount.Cmp(b.BuyAmount); c != 0 {
		return c < 0
	}
	return a.UserID < b.UserID
}

// BookHigher ranks order a above b in the displayed bid book. Like the
// clearing comparator it cross-multiplies the buy/sell ratios instead of
// dividing, so amounts past 64 bits lose no precision. Ties go to the
// smaller auctioned amount first; the final userId tie-break is cosmetic
// (display only), so callers pick its direction via largerUserWins.
func BookHigher(a, b Order, largerUserWins bool) bool {
	lhs := new(big.Int).Mul(a.BuyAmount, b.SellAmount)
	rhs := new(big.Int).Mul(b.BuyAmount, a.SellAmount)
	if c := lhs.Cmp(rhs); c != 0 {
		// Lower buy/sell ratio = higher implied price, same as SmallerThan.
		return c < 0
	}
	if c := a.BuyAmount.Cmp(b.BuyAmount); c != 0 {
		return c < 0
	}
	if largerUserWins {
		return a.UserID > b.UserID
	}
	return a.UserID < b.UserID
}

// HighestBid returns the top-of-book order. Returns false for an empty set.
// Tie-break: larger userId wins, matching the legacy ranking used by the
// displayed book.
func HighestBid(orders []Order) (Order, bool) {
	if len(orders) == 0 {
		return Order{}, false
	}
	best := orders[0]
	for _, o := range orders[1:] {
		if BookHigher(o, best, true) {
			best = o
		}
	}
	return best, true
}

// LowestBid returns the bottom-of-book order. Returns false for an empty
// set. Tie-break: smaller userId wins.
func LowestBid(orders []Order) (Order, bool) {
	if len(orders) == 0 {
		return Order{}, false
	}
	worst := orders[0]
	for _, o := range orders[1:] {
		// largerUserWins here means the larger userId ranks HIGHER, so a
		// full-tie order with the smaller userId sinks to the bottom.
		if BookHigher(worst, o, true) {
			worst = o
		}
	}
	return worst, true
}
