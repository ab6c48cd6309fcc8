package persistence_test

import (
	"encoding/binary"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/moxie-protocol/auction-indexer/internal/auction"
	"github.com/moxie-protocol/auction-indexer/internal/core"
	"github.com/moxie-protocol/auction-indexer/internal/event"
	"github.com/moxie-protocol/auction-indexer/internal/persistence"
	"github.com/moxie-protocol/auction-indexer/internal/state"
	"github.com/moxie-protocol/auction-indexer/internal/store"
)

func newProjector(startSequence int64) (*core.Projector, *store.MemoryStore) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	entities := store.NewMemoryStore()
	p := core.NewProjector(startSequence, entities, state.NewDenylist(nil, nil),
		persistChan, projChan, nil, 1000, nil, zerolog.Nop())
	return p, entities
}

func chainRef(block uint64) event.ChainRef {
	var h common.Hash
	binary.BigEndian.PutUint64(h[0:8], block)
	return event.ChainRef{
		TxHash:      h,
		BlockNumber: block,
		Timestamp:   time.Unix(1_700_000_000+int64(block), 0).UTC(),
	}
}

func feedAuctionWithBids(t *testing.T, p *core.Projector) {
	t.Helper()
	events := []event.Event{
		&event.NewUser{ChainRef: chainRef(100), UserID: 1, Address: common.HexToAddress("0x0000000000000000000000000000000000000001")},
		&event.NewUser{ChainRef: chainRef(101), UserID: 2, Address: common.HexToAddress("0x0000000000000000000000000000000000000002")},
		&event.NewAuction{
			ChainRef:            chainRef(102),
			ID:                  1,
			AuctioningToken:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
			BiddingToken:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
			AuctionedSellAmount: big.NewInt(100),
			MinBuyAmount:        big.NewInt(50),
			UserID:              100,
			EndDate:             1_700_100_000,
		},
		&event.NewSellOrder{ChainRef: chainRef(103), Auction: 1, UserID: 1, BuyAmount: big.NewInt(40), SellAmount: big.NewInt(60)},
		&event.NewSellOrder{ChainRef: chainRef(104), Auction: 1, UserID: 2, BuyAmount: big.NewInt(60), SellAmount: big.NewInt(60)},
	}
	for _, e := range events {
		if err := p.ProcessEvent(e); err != nil {
			t.Fatalf("process %s: %v", e.EventType(), err)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	p1, _ := newProjector(0)
	feedAuctionWithBids(t, p1)

	snap := persistence.BuildSnapshot(p1, 100)
	if snap.Sequence != p1.Sequence() {
		t.Fatalf("snapshot sequence: got %d, want %d", snap.Sequence, p1.Sequence())
	}
	if len(snap.Auctions) != 1 {
		t.Fatalf("snapshot auctions: got %d, want 1", len(snap.Auctions))
	}
	if got := len(snap.Auctions[0].ActiveOrders); got != 2 {
		t.Errorf("snapshot active orders: got %d, want 2", got)
	}
	if got := len(snap.Auctions[0].OrderEntities); got != 2 {
		t.Errorf("snapshot order entities: got %d, want 2", got)
	}

	// Snapshots are stored as JSON; simulate the store/load cycle.
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var loaded persistence.SnapshotData
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	p2, entities2 := newProjector(loaded.Sequence)
	if err := persistence.RestoreSnapshot(p2, entities2, &loaded); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if p2.StateHash() != p1.StateHash() {
		t.Error("hash chain tip diverged after restore")
	}
	if p2.Sequence() != p1.Sequence() {
		t.Errorf("sequence: got %d, want %d", p2.Sequence(), p1.Sequence())
	}

	st, ok := p2.Auctions().Get(1)
	if !ok {
		t.Fatal("auction aggregate missing after restore")
	}
	if st.ActiveOrderCount() != 2 {
		t.Errorf("active orders: got %d, want 2", st.ActiveOrderCount())
	}
	if st.BidderCount() != 2 {
		t.Errorf("bidders: got %d, want 2", st.BidderCount())
	}

	// Processing continues identically on both projectors after restore.
	cleared := &event.AuctionCleared{
		ChainRef:             chainRef(200),
		Auction:              1,
		SoldAuctioningTokens: big.NewInt(100),
		SoldBiddingTokens:    big.NewInt(100),
	}
	cleared.ClearingPriceOrder, err = auction.EncodeOrder(2, big.NewInt(60), big.NewInt(60))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	claim := &event.ClaimedFromOrder{
		ChainRef:   chainRef(201),
		Auction:    1,
		UserID:     2,
		BuyAmount:  big.NewInt(60),
		SellAmount: big.NewInt(60),
	}

	for _, p := range []*core.Projector{p1, p2} {
		if err := p.ProcessEvent(cleared); err != nil {
			t.Fatalf("cleared: %v", err)
		}
		if err := p.ProcessEvent(claim); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}
	if p1.StateHash() != p2.StateHash() {
		t.Error("hash chains diverged when processing past the snapshot")
	}

	// Restored order entities back the claim path.
	o, ok := store.LoadOrder(entities2, auction.Order{AuctionID: 1, UserID: 2, BuyAmount: big.NewInt(60), SellAmount: big.NewInt(60)}.ID())
	if !ok {
		t.Fatal("claimed order missing from restored store")
	}
	if o.Spent == nil || o.Spent.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("claimed spent: got %v, want 40", o.Spent)
	}
}

func TestSnapshotWarmsDedupLRU(t *testing.T) {
	p1, _ := newProjector(0)
	feedAuctionWithBids(t, p1)

	snap := persistence.BuildSnapshot(p1, 100)
	if len(snap.IdempotencyKeys) != 5 {
		t.Fatalf("snapshot keys: got %d, want 5", len(snap.IdempotencyKeys))
	}

	p2, entities2 := newProjector(snap.Sequence)
	if err := persistence.RestoreSnapshot(p2, entities2, snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// A redelivery of an already-applied event must be recognized without
	// the DB tier.
	dup := &event.NewSellOrder{ChainRef: chainRef(104), Auction: 1, UserID: 2, BuyAmount: big.NewInt(60), SellAmount: big.NewInt(60)}
	seq := p2.Sequence()
	if err := p2.ProcessEvent(dup); err != nil {
		t.Fatalf("redelivery errored: %v", err)
	}
	if p2.Sequence() != seq {
		t.Error("redelivered event advanced the sequence after restore")
	}
}

func TestRestoreRejectsBadStateHash(t *testing.T) {
	p, entities := newProjector(0)
	snap := &persistence.SnapshotData{StateHash: []byte{1, 2, 3}}
	if err := persistence.RestoreSnapshot(p, entities, snap); err == nil {
		t.Fatal("expected error for truncated state hash")
	}
}
