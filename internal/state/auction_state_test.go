package state_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/moxie-protocol/auction-indexer/internal/auction"
	"github.com/moxie-protocol/auction-indexer/internal/entity"
	"github.com/moxie-protocol/auction-indexer/internal/state"
)

func newTestDetail(auctionID uint64) *entity.AuctionDetail {
	return &entity.AuctionDetail{
		AuctionID:        auctionID,
		AuctioningSupply: big.NewInt(100),
		MinBuyAmount:     big.NewInt(50),
		ClearingPrice:    decimal.Zero,
		CurrentVolume:    decimal.Zero,
	}
}

func bid(auctionID, userID uint64, buy, sell int64) auction.Order {
	return auction.Order{
		AuctionID:  auctionID,
		UserID:     userID,
		BuyAmount:  big.NewInt(buy),
		SellAmount: big.NewInt(sell),
	}
}

func TestAuctionManagerCreateAndGet(t *testing.T) {
	m := state.NewAuctionManager()

	st, err := m.Create(newTestDetail(1), 18, 6)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if st.DecimalsAuctioning != 18 || st.DecimalsBidding != 6 {
		t.Errorf("decimals: got %d/%d, want 18/6", st.DecimalsAuctioning, st.DecimalsBidding)
	}

	got, ok := m.Get(1)
	if !ok || got != st {
		t.Fatal("get did not return the created aggregate")
	}
	if _, ok := m.Get(2); ok {
		t.Error("get returned an aggregate for an unknown auction")
	}
}

func TestAuctionManagerDuplicateCreateFails(t *testing.T) {
	m := state.NewAuctionManager()
	if _, err := m.Create(newTestDetail(1), 0, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(newTestDetail(1), 0, 0); err == nil {
		t.Fatal("expected error on duplicate auction creation")
	}
}

func TestAuctionStateOrderSet(t *testing.T) {
	m := state.NewAuctionManager()
	st, _ := m.Create(newTestDetail(1), 0, 0)

	o1 := bid(1, 1, 40, 60)
	o2 := bid(1, 2, 60, 60)
	st.AddOrder(o1)
	st.AddOrder(o2)
	st.AddBidder(1)
	st.AddBidder(2)
	st.AddBidder(1) // same bidder twice

	if st.ActiveOrderCount() != 2 {
		t.Errorf("active orders: got %d, want 2", st.ActiveOrderCount())
	}
	if st.BidderCount() != 2 {
		t.Errorf("bidders: got %d, want 2", st.BidderCount())
	}

	if !st.RemoveOrder(o1.ID()) {
		t.Error("remove of active order reported not found")
	}
	if st.RemoveOrder(o1.ID()) {
		t.Error("second remove of the same order reported found")
	}
	if st.ActiveOrderCount() != 1 {
		t.Errorf("active orders after remove: got %d, want 1", st.ActiveOrderCount())
	}
	// Removing an order does not unregister its bidder.
	if st.BidderCount() != 2 {
		t.Errorf("bidders after remove: got %d, want 2", st.BidderCount())
	}
}

func TestAuctionStateRecompute(t *testing.T) {
	m := state.NewAuctionManager()
	st, _ := m.Create(newTestDetail(1), 0, 0)

	// Empty book: recompute is a no-op, not an error.
	if err := st.Recompute(); err != nil {
		t.Fatalf("recompute on empty book: %v", err)
	}
	if st.Current != nil {
		t.Fatal("recompute on empty book produced a result")
	}

	st.AddOrder(bid(1, 1, 40, 60))
	st.AddOrder(bid(1, 2, 60, 60))
	if err := st.Recompute(); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if st.Current == nil {
		t.Fatal("recompute produced no result")
	}
	if st.Current.ClearingOrder.UserID != 2 {
		t.Errorf("marginal order user: got %d, want 2", st.Current.ClearingOrder.UserID)
	}
	if st.Current.VolumeAtClearingPrice.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("volume: got %s, want 40", st.Current.VolumeAtClearingPrice)
	}

	// Removing every bid leaves the last computed view in place.
	st.RemoveOrder(bid(1, 1, 40, 60).ID())
	st.RemoveOrder(bid(1, 2, 60, 60).ID())
	if err := st.Recompute(); err != nil {
		t.Fatalf("recompute after removals: %v", err)
	}
	if st.Current == nil {
		t.Error("recompute on emptied book cleared the previous view")
	}
}

func TestAuctionStateFinalizeOnce(t *testing.T) {
	m := state.NewAuctionManager()
	st, _ := m.Create(newTestDetail(1), 0, 0)

	res := &auction.Result{
		ClearingOrder:         bid(1, 2, 60, 60),
		VolumeAtClearingPrice: big.NewInt(40),
		BiddingTotal:          big.NewInt(120),
		MinFundingMet:         true,
	}
	if err := st.Finalize(res); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !st.Final.Finalized {
		t.Error("finalize did not mark the result finalized")
	}
	if err := st.Finalize(res); err == nil {
		t.Fatal("expected error on double finalize")
	}
}

func TestAuctionManagerRestore(t *testing.T) {
	m := state.NewAuctionManager()
	st := &state.AuctionState{
		Detail:             newTestDetail(5),
		DecimalsAuctioning: 18,
		DecimalsBidding:    6,
	}
	orders := []auction.Order{bid(5, 1, 40, 60), bid(5, 2, 60, 60)}
	m.Restore(st, orders, []uint64{1, 2})

	got, ok := m.Get(5)
	if !ok {
		t.Fatal("restored auction not found")
	}
	if got.ActiveOrderCount() != 2 {
		t.Errorf("active orders: got %d, want 2", got.ActiveOrderCount())
	}
	if got.BidderCount() != 2 {
		t.Errorf("bidders: got %d, want 2", got.BidderCount())
	}
}

func TestUserRegistry(t *testing.T) {
	r := state.NewUserRegistry()

	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	r.Register(7, addr)

	got, ok := r.Lookup(7)
	if !ok || got != addr {
		t.Fatalf("lookup: got %s ok=%v", got.Hex(), ok)
	}
	if _, ok := r.Lookup(8); ok {
		t.Error("lookup returned an address for an unknown user")
	}

	snap := r.Snapshot()
	r2 := state.NewUserRegistry()
	r2.Restore(snap)
	if got, ok := r2.Lookup(7); !ok || got != addr {
		t.Error("restore lost the registered user")
	}
}

func TestDenylist(t *testing.T) {
	blocked := common.HexToAddress("0x4444444444444444444444444444444444444444")
	d := state.NewDenylist([]common.Address{blocked}, []uint64{9})

	if !d.BlocksToken(blocked) {
		t.Error("denylisted token not blocked")
	}
	if d.BlocksToken(common.HexToAddress("0x5555555555555555555555555555555555555555")) {
		t.Error("unlisted token blocked")
	}
	if !d.BlocksAuction(9) {
		t.Error("denylisted auction not blocked")
	}
	if d.BlocksAuction(10) {
		t.Error("unlisted auction blocked")
	}
}
