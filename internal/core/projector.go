package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/moxie-protocol/auction-indexer/internal/auction"
	"github.com/moxie-protocol/auction-indexer/internal/entity"
	"github.com/moxie-protocol/auction-indexer/internal/event"
	"github.com/moxie-protocol/auction-indexer/internal/observability"
	"github.com/moxie-protocol/auction-indexer/internal/state"
	"github.com/moxie-protocol/auction-indexer/internal/store"
)

// ErrAuctionNotFound is fatal: an order-flow event referenced an auction
// this indexer never saw. The event stream is broken and processing halts.
var ErrAuctionNotFound = errors.New("auction not found")

// ErrOrderNotFound is fatal at claim time: a claim arrived for an order
// that was never placed.
var ErrOrderNotFound = errors.New("order not found")

// Projector is the single-threaded event processor: it replays the auction
// contract's settlement rule over the decoded event stream and emits entity
// upserts. All events — for one auction and across auctions — are applied
// strictly sequentially in chain order, so aggregates are never mutated
// concurrently and replaying the log from genesis reproduces the same
// state hash chain.
type Projector struct {
	sequence       int64
	hasher         *StateHasher
	entities       store.Store
	auctions       *state.AuctionManager
	users          *state.UserRegistry
	denylist       *state.Denylist
	dedup          *DedupChecker
	orderValidator *ChainOrderValidator
	metrics        *observability.Metrics
	log            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one applied event plus the entity upserts it produced.
// Payload is the JSON-encoded source event, stored in the event log so a
// replay from genesis can re-feed the projector.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Payload  []byte
	Upserts  []entity.Entity
}

func NewProjector(
	startSequence int64,
	entities store.Store,
	denylist *state.Denylist,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBDedupChecker,
	dedupCapacity int,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Projector {
	return &Projector{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		entities:       entities,
		auctions:       state.NewAuctionManager(),
		users:          state.NewUserRegistry(),
		denylist:       denylist,
		dedup:          NewDedupChecker(dedupCapacity, dbChecker),
		orderValidator: NewChainOrderValidator(),
		metrics:        metrics,
		log:            log,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Entities exposes the entity store for snapshotting.
func (p *Projector) Entities() store.Store { return p.entities }

// Auctions exposes the auction aggregates for snapshotting.
func (p *Projector) Auctions() *state.AuctionManager { return p.auctions }

// Users exposes the user registry for snapshotting.
func (p *Projector) Users() *state.UserRegistry { return p.users }

// Dedup exposes the idempotency checker for snapshot warm-up.
func (p *Projector) Dedup() *DedupChecker { return p.dedup }

// OrderValidator exposes the chain-order watermarks for snapshotting.
func (p *Projector) OrderValidator() *ChainOrderValidator { return p.orderValidator }

// Sequence returns the next sequence the projector will assign.
func (p *Projector) Sequence() int64 { return p.sequence }

// StateHash returns the current integrity chain tip.
func (p *Projector) StateHash() [32]byte { return p.hasher.GetPrevHash() }

// RestoreHashChain sets the chain tip after snapshot recovery.
func (p *Projector) RestoreHashChain(tip [32]byte) { p.hasher.SetPrevHash(tip) }

// ProcessEvent is the main processing pipeline.
func (p *Projector) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: idempotency check (two-tier)
	isDuplicate := p.dedup.IsDuplicate(eventType, idempotencyKey)

	// Step 2: chain-order validation per partition
	partition := p.partition(evt)
	if err := p.orderValidator.Validate(partition, evt.SourceSequence(), isDuplicate); err != nil {
		p.reject(eventType, "out_of_order")
		return fmt.Errorf("chain order validation failed: %w", err)
	}

	if isDuplicate {
		p.reject(eventType, "duplicate")
		return nil
	}

	// Step 3: dispatch
	upserts, err := p.dispatch(evt)
	if err != nil {
		return fmt.Errorf("%s: %w", eventType, err)
	}

	// A handler may decide the event is a no-op (denylisted auction,
	// unknown user). The event is still marked processed so a redelivery
	// stays a no-op, but nothing is emitted.
	if len(upserts) > 0 {
		for _, e := range upserts {
			p.entities.Save(e)
		}

		stateDigest := computeStateDigest(upserts)
		prevHash := p.hasher.GetPrevHash()
		stateHash := p.hasher.ComputeHash(p.sequence, stateDigest)

		envelope := &event.EventEnvelope{
			Sequence:       p.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			AuctionID:      evt.AuctionID(),
			Timestamp:      evt.EventTimestamp(),
			SourceSequence: evt.SourceSequence(),
			StateHash:      stateHash,
			PrevHash:       prevHash,
		}

		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		output := CoreOutput{Envelope: envelope, Payload: payload, Upserts: upserts}

		// Persistence: blocking send. The projector stalls until the
		// persistence worker drains, so no applied event is ever lost.
		select {
		case p.persistChan <- output:
		default:
			if p.metrics != nil {
				p.metrics.PersistBackpressure.Inc()
			}
			p.persistChan <- output
		}

		// Projections: non-blocking send with drop. Projection tables are
		// rebuilt from the entity tables when they fall behind.
		select {
		case p.projectionChan <- output:
		default:
			if p.metrics != nil {
				p.metrics.ProjectionDrops.Inc()
			}
		}

		p.sequence++
	}

	// Step 4: mark processed
	p.dedup.MarkProcessed(eventType, idempotencyKey)

	if p.metrics != nil {
		p.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		p.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		p.metrics.CoreSequence.Set(float64(p.sequence))
	}

	return nil
}

// ReplayEvent re-applies a persisted event during recovery. The pipeline
// mirrors ProcessEvent but skips the dedup lookup and emits nothing
// downstream; the rows being replayed are already durable. Replaying the
// same log must land on the same hash chain tip.
func (p *Projector) ReplayEvent(evt event.Event) error {
	partition := p.partition(evt)
	if err := p.orderValidator.Validate(partition, evt.SourceSequence(), false); err != nil {
		return fmt.Errorf("chain order validation failed: %w", err)
	}

	upserts, err := p.dispatch(evt)
	if err != nil {
		return fmt.Errorf("%s: %w", evt.EventType(), err)
	}

	if len(upserts) > 0 {
		for _, e := range upserts {
			p.entities.Save(e)
		}
		p.hasher.ComputeHash(p.sequence, computeStateDigest(upserts))
		p.sequence++
	}

	p.dedup.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())
	return nil
}

func (p *Projector) reject(eventType, reason string) {
	if p.metrics != nil {
		p.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (p *Projector) partition(evt event.Event) string {
	if auctionID := evt.AuctionID(); auctionID != nil {
		return fmt.Sprintf("auction:%d", *auctionID)
	}
	return "global"
}

func (p *Projector) dispatch(evt event.Event) ([]entity.Entity, error) {
	switch e := evt.(type) {
	case *event.NewAuction:
		return p.handleNewAuction(e)
	case *event.NewUser:
		return p.handleNewUser(e)
	case *event.NewSellOrder:
		return p.handleNewSellOrder(e)
	case *event.CancellationSellOrder:
		return p.handleCancellation(e)
	case *event.ClaimedFromOrder:
		return p.handleClaimed(e)
	case *event.AuctionCleared:
		return p.handleAuctionCleared(e)
	default:
		return nil, fmt.Errorf("unknown event type %T", evt)
	}
}

func (p *Projector) handleNewAuction(e *event.NewAuction) ([]entity.Entity, error) {
	if p.denylist.BlocksAuction(e.ID) ||
		p.denylist.BlocksToken(e.AuctioningToken) ||
		p.denylist.BlocksToken(e.BiddingToken) {
		p.log.Info().Uint64("auction_id", e.ID).Msg("skipping denylisted auction")
		return nil, nil
	}

	auctioning := store.GetOrCreateToken(p.entities, e.AuctioningToken, e.AuctioningTokenSymbol, e.AuctioningTokenDecimals)
	bidding := store.GetOrCreateToken(p.entities, e.BiddingToken, e.BiddingTokenSymbol, e.BiddingTokenDecimals)

	detail := &entity.AuctionDetail{
		AuctionID:                    e.ID,
		AuctioningToken:              e.AuctioningToken,
		BiddingToken:                 e.BiddingToken,
		AuctioningSupply:             e.AuctionedSellAmount,
		MinBuyAmount:                 e.MinBuyAmount,
		MinFundingThreshold:          e.MinFundingThreshold,
		MinimumBiddingAmountPerOrder: e.MinimumBiddingAmountPerOrder,
		AuctioneerUserID:             e.UserID,
		EndDate:                      e.EndDate,
		CancellationEndDate:          e.CancellationEndDate,
		AllowListContract:            e.AllowListContract,
		AllowListData:                e.AllowListData,
		ClearingPrice:                decimal.Zero,
		CurrentVolume:                decimal.Zero,
		TxHash:                       e.TxHash,
		BlockNumber:                  e.BlockNumber,
		Timestamp:                    e.Timestamp.Unix(),
	}

	if _, err := p.auctions.Create(detail, auctioning.Decimals, bidding.Decimals); err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.AuctionsTracked.Inc()
	}

	return []entity.Entity{auctioning, bidding, detail}, nil
}

func (p *Projector) handleNewUser(e *event.NewUser) ([]entity.Entity, error) {
	p.users.Register(e.UserID, e.Address)

	u := &entity.User{
		UserID:    e.UserID,
		Address:   e.Address,
		CreatedAt: e.Timestamp.Unix(),
	}
	return []entity.Entity{u}, nil
}

func (p *Projector) handleNewSellOrder(e *event.NewSellOrder) ([]entity.Entity, error) {
	st, ok := p.auctions.Get(e.Auction)
	if !ok {
		return nil, fmt.Errorf("%w: auction %d", ErrAuctionNotFound, e.Auction)
	}

	addr, known := p.users.Lookup(e.UserID)
	if !known {
		// Recoverable: an order from a user this indexer never saw
		// registered. Skip rather than halt; the order cannot be
		// attributed.
		p.log.Warn().
			Uint64("auction_id", e.Auction).
			Uint64("user_id", e.UserID).
			Msg("sell order from unknown user, skipping")
		return nil, nil
	}

	o := auction.Order{
		AuctionID:  e.Auction,
		UserID:     e.UserID,
		BuyAmount:  e.BuyAmount,
		SellAmount: e.SellAmount,
	}
	price, volume := auction.PricePoint(e.SellAmount, e.BuyAmount, st.DecimalsAuctioning, st.DecimalsBidding)

	ord := &entity.Order{
		OrderID:     o.ID(),
		AuctionID:   e.Auction,
		UserID:      e.UserID,
		UserAddress: addr,
		SellAmount:  e.SellAmount,
		BuyAmount:   e.BuyAmount,
		Price:       price,
		Volume:      volume,
		Status:      entity.StatusPlaced,
		BlockNumber: e.BlockNumber,
		Timestamp:   e.Timestamp.Unix(),
	}

	st.AddOrder(o)
	st.AddBidder(e.UserID)
	if err := st.Recompute(); err != nil {
		return nil, err
	}

	st.Detail.OrderCount++
	st.Detail.UniqueBidders = int64(st.BidderCount())
	p.applyLiveClearing(st)

	return []entity.Entity{ord, st.Detail}, nil
}

func (p *Projector) handleCancellation(e *event.CancellationSellOrder) ([]entity.Entity, error) {
	st, ok := p.auctions.Get(e.Auction)
	if !ok {
		return nil, fmt.Errorf("%w: auction %d", ErrAuctionNotFound, e.Auction)
	}

	o := auction.Order{
		AuctionID:  e.Auction,
		UserID:     e.UserID,
		BuyAmount:  e.BuyAmount,
		SellAmount: e.SellAmount,
	}

	ord, found := store.LoadOrder(p.entities, o.ID())
	if !found {
		// Recoverable: a cancellation for an order never indexed (for
		// example a bid skipped because its user was unknown).
		p.log.Warn().
			Str("order_id", o.ID()).
			Msg("cancellation for unknown order, skipping")
		return nil, nil
	}

	if err := ord.Transition(entity.StatusCancelled); err != nil {
		return nil, err
	}
	ord.FinalTxHash = e.TxHash

	st.RemoveOrder(o.ID())
	if err := st.Recompute(); err != nil {
		return nil, err
	}

	st.Detail.OrderCount--
	p.applyLiveClearing(st)

	return []entity.Entity{ord, st.Detail}, nil
}

func (p *Projector) handleClaimed(e *event.ClaimedFromOrder) ([]entity.Entity, error) {
	st, ok := p.auctions.Get(e.Auction)
	if !ok {
		return nil, fmt.Errorf("%w: auction %d at claim", ErrAuctionNotFound, e.Auction)
	}

	o := auction.Order{
		AuctionID:  e.Auction,
		UserID:     e.UserID,
		BuyAmount:  e.BuyAmount,
		SellAmount: e.SellAmount,
	}

	ord, found := store.LoadOrder(p.entities, o.ID())
	if !found {
		return nil, fmt.Errorf("%w: claim for order %s", ErrOrderNotFound, o.ID())
	}

	settlement, err := auction.Allocate(o, st.Final)
	if err != nil {
		return nil, err
	}

	if err := ord.Transition(entity.StatusClaimed); err != nil {
		return nil, err
	}
	ord.Refund = settlement.Refund
	ord.Reward = settlement.Reward
	ord.Spent = settlement.Spent
	ord.FinalTxHash = e.TxHash

	st.RemoveOrder(o.ID())

	return []entity.Entity{ord}, nil
}

func (p *Projector) handleAuctionCleared(e *event.AuctionCleared) ([]entity.Entity, error) {
	st, ok := p.auctions.Get(e.Auction)
	if !ok {
		return nil, fmt.Errorf("%w: auction %d at clearing", ErrAuctionNotFound, e.Auction)
	}

	decoded := auction.DecodeOrderInto(e.Auction, e.ClearingPriceOrder)
	price, _ := auction.PricePoint(decoded.SellAmount, decoded.BuyAmount, st.DecimalsAuctioning, st.DecimalsBidding)

	final := &auction.Result{
		ClearingOrder:         decoded,
		Price:                 price,
		VolumeAtClearingPrice: new(big.Int),
		BiddingTotal:          e.SoldBiddingTokens,
		MinFundingMet:         fundingMet(e.SoldBiddingTokens, st.Detail.MinFundingThreshold),
	}

	// Cross-check against the off-chain recompute. The contract snapshots
	// its clearing order at settlement time, so a bid cancelled after that
	// snapshot can legitimately diverge from the live view; the on-chain
	// value wins, the divergence is only logged.
	recomputed, err := auction.FindClearingPrice(st.InitialOrder(), st.ActiveOrders(), st.DecimalsAuctioning, st.DecimalsBidding)
	switch {
	case err == auction.ErrNoActiveOrders:
		// Every bid was cancelled; the decoded order stands alone.
	case err != nil:
		return nil, err
	case recomputed.ClearingOrder.Equal(decoded):
		final.VolumeAtClearingPrice = recomputed.VolumeAtClearingPrice
	default:
		p.log.Warn().
			Uint64("auction_id", e.Auction).
			Str("onchain_order", decoded.ID()).
			Str("recomputed_order", recomputed.ClearingOrder.ID()).
			Msg("on-chain clearing order diverges from recompute, keeping on-chain value")
	}

	if err := st.Finalize(final); err != nil {
		return nil, err
	}

	d := st.Detail
	d.IsCleared = true
	d.ClearingPrice = final.Price
	d.ClearingOrderUserID = decoded.UserID
	d.ClearingOrderBuyAmount = decoded.BuyAmount
	d.ClearingOrderSellAmount = decoded.SellAmount
	d.VolumeAtClearingPrice = final.VolumeAtClearingPrice
	d.MinFundingThresholdNotReached = !final.MinFundingMet
	d.CurrentVolume = decimal.NewFromBigInt(e.SoldBiddingTokens, -st.DecimalsBidding)
	d.TxHash = e.TxHash
	d.BlockNumber = e.BlockNumber

	if p.metrics != nil {
		p.metrics.AuctionsCleared.Inc()
	}
	return []entity.Entity{d}, nil
}

// applyLiveClearing copies the live clearing view and book extremes onto
// the auction detail entity. Finalized auctions are never overwritten.
func (p *Projector) applyLiveClearing(st *state.AuctionState) {
	if st.Final != nil || st.Current == nil {
		return
	}
	d := st.Detail
	res := st.Current

	d.ClearingPrice = res.Price
	d.ClearingOrderUserID = res.ClearingOrder.UserID
	d.ClearingOrderBuyAmount = res.ClearingOrder.BuyAmount
	d.ClearingOrderSellAmount = res.ClearingOrder.SellAmount
	d.VolumeAtClearingPrice = res.VolumeAtClearingPrice
	d.MinFundingThresholdNotReached = !res.MinFundingMet
	d.CurrentVolume = decimal.NewFromBigInt(res.BiddingTotal, -st.DecimalsBidding)

	active := st.ActiveOrders()
	if high, ok := auction.HighestBid(active); ok {
		d.HighestBidOrderID = high.ID()
	} else {
		d.HighestBidOrderID = ""
	}
	if low, ok := auction.LowestBid(active); ok {
		d.LowestBidOrderID = low.ID()
	} else {
		d.LowestBidOrderID = ""
	}
}

func fundingMet(raised, threshold *big.Int) bool {
	if threshold == nil || threshold.Sign() == 0 {
		return true
	}
	return raised.Cmp(threshold) >= 0
}

// computeStateDigest builds canonical bytes over the upserted entities.
// Entities are sorted by kind:id and serialized with encoding/json, whose
// struct field order is deterministic.
func computeStateDigest(upserts []entity.Entity) []byte {
	sorted := make([]entity.Entity, len(upserts))
	copy(sorted, upserts)
	sort.Slice(sorted, func(i, j int) bool {
		ki := sorted[i].EntityKind() + ":" + sorted[i].EntityID()
		kj := sorted[j].EntityKind() + ":" + sorted[j].EntityID()
		return ki < kj
	})

	digest := make([]byte, 0, len(sorted)*128)
	for _, e := range sorted {
		key := e.EntityKind() + ":" + e.EntityID()
		digest = append(digest, byte(len(key)))
		digest = append(digest, key...)

		payload, err := json.Marshal(e)
		if err != nil {
			panic(fmt.Sprintf("FATAL: entity %s not serializable: %v", key, err))
		}
		digest = append(digest, payload...)
	}
	return digest
}
