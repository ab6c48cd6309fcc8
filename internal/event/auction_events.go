package event

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainRef locates an event on chain. Every payload embeds one.
// The idempotency key is txHash:logIndex — a log is emitted exactly once.
type ChainRef struct {
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint32
	Timestamp   time.Time // block timestamp, NOT wall-clock
}

func (c ChainRef) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", c.TxHash.Hex(), c.LogIndex)
}

// SourceSequence folds (blockNumber, logIndex) into one ordering key.
// Log indexes fit comfortably in 20 bits on every supported chain.
func (c ChainRef) SourceSequence() int64 {
	return int64(c.BlockNumber)<<20 | int64(c.LogIndex)
}

func (c ChainRef) EventTimestamp() time.Time {
	return c.Timestamp
}

// NewAuction announces a batch auction: Supply tokens for sale against a
// minimum raise of MinBuyAmount, voiding below MinFundingThreshold.
// Token decimals ride along from the upstream decoder's metadata lookup.
type NewAuction struct {
	ChainRef
	ID                           uint64
	AuctioningToken              common.Address
	BiddingToken                 common.Address
	AuctioningTokenDecimals      int32
	BiddingTokenDecimals         int32
	AuctioningTokenSymbol        string
	BiddingTokenSymbol           string
	AuctionedSellAmount          *big.Int // supply for sale
	MinBuyAmount                 *big.Int // minimum raise
	MinimumBiddingAmountPerOrder *big.Int
	MinFundingThreshold          *big.Int
	UserID                       uint64 // auctioneer
	EndDate                      int64
	CancellationEndDate          int64
	AllowListContract            common.Address
	AllowListData                []byte
}

func (e *NewAuction) EventType() EventType { return EventTypeNewAuction }
func (e *NewAuction) AuctionID() *uint64   { id := e.ID; return &id }

// NewUser registers a bidder address under a compact userId. Order events
// carry only the userId.
type NewUser struct {
	ChainRef
	UserID  uint64
	Address common.Address
}

func (e *NewUser) EventType() EventType { return EventTypeNewUser }
func (e *NewUser) AuctionID() *uint64   { return nil }

// NewSellOrder is a placed bid.
type NewSellOrder struct {
	ChainRef
	Auction    uint64
	UserID     uint64
	BuyAmount  *big.Int
	SellAmount *big.Int
}

func (e *NewSellOrder) EventType() EventType { return EventTypeNewSellOrder }
func (e *NewSellOrder) AuctionID() *uint64   { id := e.Auction; return &id }

// CancellationSellOrder withdraws a bid before the cancellation deadline.
type CancellationSellOrder struct {
	ChainRef
	Auction    uint64
	UserID     uint64
	BuyAmount  *big.Int
	SellAmount *big.Int
}

func (e *CancellationSellOrder) EventType() EventType { return EventTypeCancellationSellOrder }
func (e *CancellationSellOrder) AuctionID() *uint64   { id := e.Auction; return &id }

// ClaimedFromOrder is a bidder withdrawing funds and tokens after
// settlement.
type ClaimedFromOrder struct {
	ChainRef
	Auction    uint64
	UserID     uint64
	BuyAmount  *big.Int
	SellAmount *big.Int
}

func (e *ClaimedFromOrder) EventType() EventType { return EventTypeClaimedFromOrder }
func (e *ClaimedFromOrder) AuctionID() *uint64   { id := e.Auction; return &id }

// AuctionCleared is the contract's settlement event. ClearingPriceOrder is
// the packed (userId, buyAmount, sellAmount) of the clearing order.
type AuctionCleared struct {
	ChainRef
	Auction              uint64
	SoldAuctioningTokens *big.Int
	SoldBiddingTokens    *big.Int
	ClearingPriceOrder   common.Hash
}

func (e *AuctionCleared) EventType() EventType { return EventTypeAuctionCleared }
func (e *AuctionCleared) AuctionID() *uint64   { id := e.Auction; return &id }
