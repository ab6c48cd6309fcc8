package entity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Entity kinds used as the store namespace.
const (
	KindOrder         = "Order"
	KindAuctionDetail = "AuctionDetail"
	KindUser          = "User"
	KindToken         = "Token"
)

// Entity is anything the indexer persists to the entity store.
type Entity interface {
	EntityKind() string
	EntityID() string
}

// OrderStatus is the lifecycle state of a bid.
type OrderStatus int32

const (
	StatusPlaced OrderStatus = iota
	StatusCancelled
	StatusClaimed
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPlaced:
		return "Placed"
	case StatusCancelled:
		return "Cancelled"
	case StatusClaimed:
		return "Claimed"
	default:
		return "Unknown"
	}
}

// Order is the persisted view of one bid.
// ID is the canonical 4-tuple (auctionId, sellAmount, buyAmount, userId).
type Order struct {
	OrderID     string
	AuctionID   uint64
	UserID      uint64
	UserAddress common.Address
	SellAmount  *big.Int
	BuyAmount   *big.Int
	Price       decimal.Decimal
	Volume      decimal.Decimal
	Status      OrderStatus

	// Settlement bookkeeping, populated on claim.
	Refund *big.Int
	Reward *big.Int
	Spent  *big.Int

	// FinalTxHash is the transaction that cancelled or claimed the order.
	FinalTxHash common.Hash

	BlockNumber uint64
	Timestamp   int64
}

func (o *Order) EntityKind() string { return KindOrder }
func (o *Order) EntityID() string   { return o.OrderID }

// Transition moves the order to its next lifecycle state. Placed orders may
// be cancelled or claimed; cancelled and claimed orders are terminal.
func (o *Order) Transition(next OrderStatus) error {
	if o.Status == StatusPlaced && (next == StatusCancelled || next == StatusClaimed) {
		o.Status = next
		return nil
	}
	return fmt.Errorf("order %s: illegal status transition %s -> %s", o.OrderID, o.Status, next)
}

// AuctionDetail is the aggregate view of one auction.
type AuctionDetail struct {
	AuctionID uint64

	AuctioningToken common.Address
	BiddingToken    common.Address

	AuctioningSupply             *big.Int // tokens for sale
	MinBuyAmount                 *big.Int // minimum raise the auctioneer accepts
	MinFundingThreshold          *big.Int // below this the auction voids
	MinimumBiddingAmountPerOrder *big.Int

	AuctioneerUserID    uint64
	EndDate             int64
	CancellationEndDate int64
	AllowListContract   common.Address
	AllowListData       []byte

	// Clearing state, updated on every order event for the live view and
	// fixed by the on-chain settlement event.
	ClearingPrice           decimal.Decimal
	ClearingOrderUserID     uint64
	ClearingOrderBuyAmount  *big.Int
	ClearingOrderSellAmount *big.Int
	VolumeAtClearingPrice   *big.Int
	CurrentVolume           decimal.Decimal

	IsCleared                     bool
	MinFundingThresholdNotReached bool

	// Displayed book extremes, maintained from the ranking comparator.
	HighestBidOrderID string
	LowestBidOrderID  string

	OrderCount    int64
	UniqueBidders int64

	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   int64
}

func (a *AuctionDetail) EntityKind() string { return KindAuctionDetail }
func (a *AuctionDetail) EntityID() string   { return fmt.Sprintf("%d", a.AuctionID) }

// User maps the contract's compact userId to the bidder's address.
type User struct {
	UserID    uint64
	Address   common.Address
	CreatedAt int64
}

func (u *User) EntityKind() string { return KindUser }
func (u *User) EntityID() string   { return fmt.Sprintf("%d", u.UserID) }

// Token carries the ERC-20 metadata needed for price scaling. Metadata is
// supplied by the upstream decoder; this indexer performs no RPC lookups.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals int32
}

func (t *Token) EntityKind() string { return KindToken }
func (t *Token) EntityID() string   { return t.Address.Hex() }
