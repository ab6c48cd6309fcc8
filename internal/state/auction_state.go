package state

import (
	"fmt"

	"github.com/moxie-protocol/auction-indexer/internal/auction"
	"github.com/moxie-protocol/auction-indexer/internal/entity"
)

// AuctionState is the in-memory aggregate for one auction: its persisted
// detail plus the live set of active orders (neither cancelled nor claimed)
// and the current/final clearing results.
//
// Aggregates are single-owner: every mutation happens inside the
// single-threaded projector, so no locking exists here.
type AuctionState struct {
	Detail *entity.AuctionDetail

	// active orders keyed by canonical order ID.
	active map[string]auction.Order

	// every userId that ever placed a bid in this auction.
	bidders map[uint64]struct{}

	// Current is the live recompute-from-scratch clearing view, refreshed
	// on every order event. Never finalized.
	Current *auction.Result

	// Final is set exactly once, from the on-chain settlement event.
	// Settlement allocation only ever runs against Final.
	Final *auction.Result

	// decimals for price scaling, resolved from the token entities when
	// the auction is created.
	DecimalsAuctioning int32
	DecimalsBidding    int32
}

// InitialOrder returns the auctioneer's side of the book.
func (s *AuctionState) InitialOrder() auction.InitialOrder {
	return auction.InitialOrder{
		AuctioningSupply: s.Detail.AuctioningSupply,
		MinimumRaise:     s.Detail.MinBuyAmount,
	}
}

// AddOrder inserts a bid into the active set.
func (s *AuctionState) AddOrder(o auction.Order) {
	s.active[o.ID()] = o
}

// AddBidder records a bidding user. Cancellations do not remove bidders;
// the unique-bidder count is over orders ever placed.
func (s *AuctionState) AddBidder(userID uint64) {
	s.bidders[userID] = struct{}{}
}

// BidderCount returns the number of distinct users that ever bid.
func (s *AuctionState) BidderCount() int {
	return len(s.bidders)
}

// RemoveOrder drops a bid from the active set (cancellation or claim).
// Returns false if the order was not active.
func (s *AuctionState) RemoveOrder(id string) bool {
	if _, ok := s.active[id]; !ok {
		return false
	}
	delete(s.active, id)
	return true
}

// ActiveOrders returns a copy of the active order set. Ordering is not
// significant; clearing sorts internally.
func (s *AuctionState) ActiveOrders() []auction.Order {
	orders := make([]auction.Order, 0, len(s.active))
	for _, o := range s.active {
		orders = append(orders, o)
	}
	return orders
}

// ActiveOrderCount returns the size of the live order set.
func (s *AuctionState) ActiveOrderCount() int {
	return len(s.active)
}

// Recompute refreshes the live clearing view from the current active set.
// An empty set leaves the previous view untouched (the documented no-op).
func (s *AuctionState) Recompute() error {
	res, err := auction.FindClearingPrice(s.InitialOrder(), s.ActiveOrders(), s.DecimalsAuctioning, s.DecimalsBidding)
	if err == auction.ErrNoActiveOrders {
		return nil
	}
	if err != nil {
		return err
	}
	s.Current = res
	return nil
}

// Finalize records the settled clearing result. An auction clears exactly
// once.
func (s *AuctionState) Finalize(res *auction.Result) error {
	if s.Final != nil {
		return fmt.Errorf("auction %d already cleared", s.Detail.AuctionID)
	}
	res.Finalized = true
	s.Final = res
	return nil
}

// AuctionManager owns every auction aggregate known to the indexer.
type AuctionManager struct {
	auctions map[uint64]*AuctionState
}

func NewAuctionManager() *AuctionManager {
	return &AuctionManager{
		auctions: make(map[uint64]*AuctionState),
	}
}

// Create registers a new auction aggregate. Duplicate creation is an error;
// the idempotency layer filters replayed events before this point.
func (m *AuctionManager) Create(detail *entity.AuctionDetail, decimalsAuctioning, decimalsBidding int32) (*AuctionState, error) {
	if _, exists := m.auctions[detail.AuctionID]; exists {
		return nil, fmt.Errorf("auction %d already exists", detail.AuctionID)
	}
	s := &AuctionState{
		Detail:             detail,
		active:             make(map[string]auction.Order),
		bidders:            make(map[uint64]struct{}),
		DecimalsAuctioning: decimalsAuctioning,
		DecimalsBidding:    decimalsBidding,
	}
	m.auctions[detail.AuctionID] = s
	return s, nil
}

// Get returns the aggregate for an auction, or false when unknown.
func (m *AuctionManager) Get(auctionID uint64) (*AuctionState, bool) {
	s, ok := m.auctions[auctionID]
	return s, ok
}

// All returns every known auction aggregate. Used for snapshots.
func (m *AuctionManager) All() []*AuctionState {
	out := make([]*AuctionState, 0, len(m.auctions))
	for _, s := range m.auctions {
		out = append(out, s)
	}
	return out
}

// Restore re-registers an aggregate loaded from a snapshot.
func (m *AuctionManager) Restore(s *AuctionState, orders []auction.Order, bidders []uint64) {
	if s.active == nil {
		s.active = make(map[string]auction.Order, len(orders))
	}
	if s.bidders == nil {
		s.bidders = make(map[uint64]struct{}, len(bidders))
	}
	for _, o := range orders {
		s.active[o.ID()] = o
	}
	for _, b := range bidders {
		s.bidders[b] = struct{}{}
	}
	m.auctions[s.Detail.AuctionID] = s
}

// Bidders returns the distinct bidder ids for snapshotting.
func (s *AuctionState) Bidders() []uint64 {
	out := make([]uint64, 0, len(s.bidders))
	for b := range s.bidders {
		out = append(out, b)
	}
	return out
}
