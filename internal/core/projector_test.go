package core_test

import (
	"encoding/binary"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/moxie-protocol/auction-indexer/internal/auction"
	"github.com/moxie-protocol/auction-indexer/internal/core"
	"github.com/moxie-protocol/auction-indexer/internal/entity"
	"github.com/moxie-protocol/auction-indexer/internal/event"
	"github.com/moxie-protocol/auction-indexer/internal/state"
	"github.com/moxie-protocol/auction-indexer/internal/store"
)

// --- Test helpers ---

// newTestProjector creates a Projector with buffered channels, an empty
// denylist and no DB dedup tier.
func newTestProjector() (*core.Projector, *store.MemoryStore, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	entities := store.NewMemoryStore()
	denylist := state.NewDenylist(nil, nil)
	p := core.NewProjector(0, entities, denylist, persistChan, projChan, nil, 1000, nil, zerolog.Nop())
	return p, entities, persistChan, projChan
}

// ref builds a unique chain reference from (block, logIndex). The tx hash
// is derived from the pair so idempotency keys never collide by accident.
func ref(block uint64, logIndex uint32) event.ChainRef {
	var h common.Hash
	binary.BigEndian.PutUint64(h[0:8], block)
	binary.BigEndian.PutUint32(h[8:12], logIndex)
	return event.ChainRef{
		TxHash:      h,
		BlockNumber: block,
		LogIndex:    logIndex,
		Timestamp:   time.Unix(1_700_000_000+int64(block), 0).UTC(),
	}
}

func mustNewUser(block uint64, userID uint64) *event.NewUser {
	var addr common.Address
	binary.BigEndian.PutUint64(addr[12:], userID)
	return &event.NewUser{ChainRef: ref(block, 0), UserID: userID, Address: addr}
}

func mustNewAuction(block uint64, auctionID uint64, supply, minBuy int64) *event.NewAuction {
	return &event.NewAuction{
		ChainRef:                ref(block, 0),
		ID:                      auctionID,
		AuctioningToken:         common.HexToAddress("0x1111111111111111111111111111111111111111"),
		BiddingToken:            common.HexToAddress("0x2222222222222222222222222222222222222222"),
		AuctioningTokenDecimals: 0,
		BiddingTokenDecimals:    0,
		AuctioningTokenSymbol:   "AUC",
		BiddingTokenSymbol:      "BID",
		AuctionedSellAmount:     big.NewInt(supply),
		MinBuyAmount:            big.NewInt(minBuy),
		UserID:                  100,
		EndDate:                 1_700_100_000,
		CancellationEndDate:     1_700_050_000,
	}
}

func mustSellOrder(block uint64, auctionID, userID uint64, buy, sell int64) *event.NewSellOrder {
	return &event.NewSellOrder{
		ChainRef:   ref(block, 0),
		Auction:    auctionID,
		UserID:     userID,
		BuyAmount:  big.NewInt(buy),
		SellAmount: big.NewInt(sell),
	}
}

func mustClaim(block uint64, auctionID, userID uint64, buy, sell int64) *event.ClaimedFromOrder {
	return &event.ClaimedFromOrder{
		ChainRef:   ref(block, 0),
		Auction:    auctionID,
		UserID:     userID,
		BuyAmount:  big.NewInt(buy),
		SellAmount: big.NewInt(sell),
	}
}

func mustCleared(block uint64, auctionID uint64, soldAuctioning, soldBidding int64, clearingUser uint64, clearingBuy, clearingSell int64) *event.AuctionCleared {
	encoded, err := auction.EncodeOrder(clearingUser, big.NewInt(clearingBuy), big.NewInt(clearingSell))
	if err != nil {
		panic(err)
	}
	return &event.AuctionCleared{
		ChainRef:             ref(block, 0),
		Auction:              auctionID,
		SoldAuctioningTokens: big.NewInt(soldAuctioning),
		SoldBiddingTokens:    big.NewInt(soldBidding),
		ClearingPriceOrder:   encoded,
	}
}

func process(t *testing.T, p *core.Projector, events ...event.Event) {
	t.Helper()
	for _, e := range events {
		if err := p.ProcessEvent(e); err != nil {
			t.Fatalf("process %s: %v", e.EventType(), err)
		}
	}
}

// lifecycleEvents is the canonical two-bidder auction. Supply 100 at a
// minimum raise of 50. User 1 bids 60 for 40 (price 1.5), user 2 bids 60
// for 60 (price 1.0). The walk crosses on user 2's order with 40 of its 60
// covered, so user 1 fills completely and user 2 is the marginal order.
func lifecycleEvents() []event.Event {
	return []event.Event{
		mustNewUser(100, 1),
		mustNewUser(101, 2),
		mustNewAuction(102, 1, 100, 50),
		mustSellOrder(103, 1, 1, 40, 60),
		mustSellOrder(104, 1, 2, 60, 60),
		mustCleared(200, 1, 100, 100, 2, 60, 60),
		mustClaim(201, 1, 1, 40, 60),
		mustClaim(202, 1, 2, 60, 60),
	}
}

// --- Tests ---

func TestProjectorAuctionLifecycle(t *testing.T) {
	p, entities, persistChan, _ := newTestProjector()

	process(t, p, lifecycleEvents()...)

	if p.Sequence() != 8 {
		t.Errorf("sequence: got %d, want 8", p.Sequence())
	}
	if len(persistChan) != 8 {
		t.Errorf("persist outputs: got %d, want 8", len(persistChan))
	}

	detail, ok := store.LoadAuction(entities, "1")
	if !ok {
		t.Fatal("auction detail not stored")
	}
	if !detail.IsCleared {
		t.Error("auction not marked cleared")
	}
	if !detail.ClearingPrice.Equal(decimal.NewFromInt(1)) {
		t.Errorf("clearing price: got %s, want 1", detail.ClearingPrice)
	}
	if detail.ClearingOrderUserID != 2 {
		t.Errorf("clearing order user: got %d, want 2", detail.ClearingOrderUserID)
	}
	if detail.VolumeAtClearingPrice.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("volume at clearing price: got %s, want 40", detail.VolumeAtClearingPrice)
	}
	if detail.UniqueBidders != 2 {
		t.Errorf("unique bidders: got %d, want 2", detail.UniqueBidders)
	}
	if detail.MinFundingThresholdNotReached {
		t.Error("funding threshold incorrectly marked unreached")
	}

	// User 1 priced above the clearing order: full fill at price 1.
	o1, ok := store.LoadOrder(entities, auction.Order{AuctionID: 1, UserID: 1, BuyAmount: big.NewInt(40), SellAmount: big.NewInt(60)}.ID())
	if !ok {
		t.Fatal("order 1 not stored")
	}
	if o1.Status != entity.StatusClaimed {
		t.Errorf("order 1 status: got %s, want Claimed", o1.Status)
	}
	if o1.Reward.Cmp(big.NewInt(60)) != 0 || o1.Refund.Sign() != 0 || o1.Spent.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("order 1 settlement: reward %s refund %s spent %s, want 60/0/60", o1.Reward, o1.Refund, o1.Spent)
	}

	// User 2 is the marginal order: 40 of 60 converts, 20 refunds.
	o2, ok := store.LoadOrder(entities, auction.Order{AuctionID: 1, UserID: 2, BuyAmount: big.NewInt(60), SellAmount: big.NewInt(60)}.ID())
	if !ok {
		t.Fatal("order 2 not stored")
	}
	if o2.Reward.Cmp(big.NewInt(40)) != 0 || o2.Refund.Cmp(big.NewInt(20)) != 0 || o2.Spent.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("order 2 settlement: reward %s refund %s spent %s, want 40/20/40", o2.Reward, o2.Refund, o2.Spent)
	}

	// Conservation on every claim: spent + refund = sellAmount.
	for _, o := range []*entity.Order{o1, o2} {
		total := new(big.Int).Add(o.Spent, o.Refund)
		if total.Cmp(o.SellAmount) != 0 {
			t.Errorf("order %s: spent %s + refund %s != sell %s", o.OrderID, o.Spent, o.Refund, o.SellAmount)
		}
	}
}

func TestProjectorDuplicateEventIsNoOp(t *testing.T) {
	p, _, persistChan, _ := newTestProjector()

	u := mustNewUser(100, 1)
	process(t, p, u)

	seq := p.Sequence()
	tip := p.StateHash()

	if err := p.ProcessEvent(u); err != nil {
		t.Fatalf("duplicate delivery errored: %v", err)
	}
	if p.Sequence() != seq {
		t.Errorf("sequence advanced on duplicate: %d -> %d", seq, p.Sequence())
	}
	if p.StateHash() != tip {
		t.Error("hash chain advanced on duplicate")
	}
	if len(persistChan) != 1 {
		t.Errorf("persist outputs: got %d, want 1", len(persistChan))
	}
}

func TestProjectorUnknownUserOrderSkipped(t *testing.T) {
	p, entities, persistChan, _ := newTestProjector()

	process(t, p,
		mustNewAuction(100, 1, 100, 50),
		mustSellOrder(101, 1, 99, 40, 60), // user 99 never registered
	)

	if len(persistChan) != 1 {
		t.Errorf("persist outputs: got %d, want 1 (auction only)", len(persistChan))
	}
	detail, _ := store.LoadAuction(entities, "1")
	if detail.OrderCount != 0 {
		t.Errorf("order count: got %d, want 0", detail.OrderCount)
	}

	// A redelivery of the skipped order stays a no-op.
	seq := p.Sequence()
	if err := p.ProcessEvent(mustSellOrder(101, 1, 99, 40, 60)); err != nil {
		t.Fatalf("redelivery errored: %v", err)
	}
	if p.Sequence() != seq {
		t.Error("sequence advanced on redelivered skip")
	}
}

func TestProjectorDenylistedAuctionSkipped(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 16)
	projChan := make(chan core.CoreOutput, 16)
	entities := store.NewMemoryStore()
	denylist := state.NewDenylist(nil, []uint64{7})
	p := core.NewProjector(0, entities, denylist, persistChan, projChan, nil, 1000, nil, zerolog.Nop())

	if err := p.ProcessEvent(mustNewAuction(100, 7, 100, 50)); err != nil {
		t.Fatalf("denylisted auction errored: %v", err)
	}
	if len(persistChan) != 0 {
		t.Errorf("persist outputs: got %d, want 0", len(persistChan))
	}
	if _, ok := store.LoadAuction(entities, "7"); ok {
		t.Error("denylisted auction was stored")
	}
}

func TestProjectorOutOfOrderRejected(t *testing.T) {
	p, _, _, _ := newTestProjector()

	process(t, p,
		mustNewUser(100, 1),
		mustNewAuction(102, 1, 100, 50),
		mustSellOrder(110, 1, 1, 40, 60),
	)

	// A fresh event for the same auction from an earlier block is a chain
	// regression.
	err := p.ProcessEvent(mustSellOrder(105, 1, 1, 50, 60))
	if err == nil {
		t.Fatal("expected chain order violation")
	}
}

func TestProjectorOrderForUnknownAuctionFatal(t *testing.T) {
	p, _, _, _ := newTestProjector()

	process(t, p, mustNewUser(100, 1))

	err := p.ProcessEvent(mustSellOrder(101, 42, 1, 40, 60))
	if !errors.Is(err, core.ErrAuctionNotFound) {
		t.Fatalf("expected ErrAuctionNotFound, got %v", err)
	}
}

func TestProjectorClaimForUnknownOrderFatal(t *testing.T) {
	p, _, _, _ := newTestProjector()

	process(t, p,
		mustNewUser(100, 1),
		mustNewUser(101, 2),
		mustNewAuction(102, 1, 100, 50),
		mustSellOrder(103, 1, 1, 40, 60),
		mustSellOrder(104, 1, 2, 60, 60),
		mustCleared(200, 1, 100, 100, 2, 60, 60),
	)

	// Claim for a bid that was never placed.
	err := p.ProcessEvent(mustClaim(201, 1, 1, 33, 77))
	if !errors.Is(err, core.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestProjectorClaimBeforeClearingFatal(t *testing.T) {
	p, _, _, _ := newTestProjector()

	process(t, p,
		mustNewUser(100, 1),
		mustNewAuction(102, 1, 100, 50),
		mustSellOrder(103, 1, 1, 40, 60),
	)

	err := p.ProcessEvent(mustClaim(104, 1, 1, 40, 60))
	if !errors.Is(err, auction.ErrClearingNotFinalized) {
		t.Fatalf("expected ErrClearingNotFinalized, got %v", err)
	}
}

func TestReplayReproducesHashChain(t *testing.T) {
	p1, _, _, _ := newTestProjector()
	process(t, p1, lifecycleEvents()...)

	p2, entities2, _, _ := newTestProjector()
	for _, e := range lifecycleEvents() {
		if err := p2.ReplayEvent(e); err != nil {
			t.Fatalf("replay %s: %v", e.EventType(), err)
		}
	}

	if p1.Sequence() != p2.Sequence() {
		t.Errorf("sequence diverged: %d vs %d", p1.Sequence(), p2.Sequence())
	}
	if p1.StateHash() != p2.StateHash() {
		t.Error("hash chain tip diverged between live processing and replay")
	}

	// Replay rebuilt the full entity state too.
	detail, ok := store.LoadAuction(entities2, "1")
	if !ok {
		t.Fatal("auction detail missing after replay")
	}
	if !detail.IsCleared {
		t.Error("auction not cleared after replay")
	}
}

func TestProjectorCancellation(t *testing.T) {
	p, entities, _, _ := newTestProjector()

	process(t, p,
		mustNewUser(100, 1),
		mustNewUser(101, 2),
		mustNewAuction(102, 1, 100, 50),
		mustSellOrder(103, 1, 1, 40, 60),
		mustSellOrder(104, 1, 2, 60, 60),
	)

	cancel := &event.CancellationSellOrder{
		ChainRef:   ref(105, 0),
		Auction:    1,
		UserID:     2,
		BuyAmount:  big.NewInt(60),
		SellAmount: big.NewInt(60),
	}
	process(t, p, cancel)

	o, ok := store.LoadOrder(entities, auction.Order{AuctionID: 1, UserID: 2, BuyAmount: big.NewInt(60), SellAmount: big.NewInt(60)}.ID())
	if !ok {
		t.Fatal("cancelled order not stored")
	}
	if o.Status != entity.StatusCancelled {
		t.Errorf("status: got %s, want Cancelled", o.Status)
	}
	if o.FinalTxHash != cancel.TxHash {
		t.Error("final tx hash not recorded on cancellation")
	}

	detail, _ := store.LoadAuction(entities, "1")
	if detail.OrderCount != 1 {
		t.Errorf("order count: got %d, want 1", detail.OrderCount)
	}
	// Unique bidders count orders ever placed, not currently active.
	if detail.UniqueBidders != 2 {
		t.Errorf("unique bidders: got %d, want 2", detail.UniqueBidders)
	}

	// Cancelling twice is an illegal transition, surfaced as an error.
	cancel2 := &event.CancellationSellOrder{
		ChainRef:   ref(106, 0),
		Auction:    1,
		UserID:     2,
		BuyAmount:  big.NewInt(60),
		SellAmount: big.NewInt(60),
	}
	if err := p.ProcessEvent(cancel2); err == nil {
		t.Fatal("expected error cancelling an already cancelled order")
	}
}

func TestProjectorFundingThresholdNotReached(t *testing.T) {
	p, entities, _, _ := newTestProjector()

	na := mustNewAuction(102, 1, 100, 50)
	na.MinFundingThreshold = big.NewInt(500)

	process(t, p,
		mustNewUser(100, 1),
		na,
		mustSellOrder(103, 1, 1, 40, 60),
		// Raised 60 against a threshold of 500.
		mustCleared(200, 1, 0, 60, 1, 40, 60),
		mustClaim(201, 1, 1, 40, 60),
	)

	detail, _ := store.LoadAuction(entities, "1")
	if !detail.MinFundingThresholdNotReached {
		t.Error("funding threshold failure not recorded")
	}

	o, _ := store.LoadOrder(entities, auction.Order{AuctionID: 1, UserID: 1, BuyAmount: big.NewInt(40), SellAmount: big.NewInt(60)}.ID())
	if o.Refund.Cmp(big.NewInt(60)) != 0 || o.Reward.Sign() != 0 || o.Spent.Sign() != 0 {
		t.Errorf("voided auction settlement: refund %s reward %s spent %s, want 60/0/0", o.Refund, o.Reward, o.Spent)
	}
}
