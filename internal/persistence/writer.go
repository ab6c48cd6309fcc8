package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moxie-protocol/auction-indexer/internal/entity"
)

// EventLogWriter writes the event log and entity tables to Postgres using
// multi-row INSERT statements. Event rows are append-only; entity rows are
// last-write-wins upserts keyed by the entity's natural ID.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is a row in event_log.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	AuctionID      *int64
	Payload        []byte // JSON-encoded source event
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// OrderRow is a row in entities.orders. Amounts are NUMERIC columns and
// travel as decimal strings.
type OrderRow struct {
	OrderID     string
	AuctionID   int64
	UserID      int64
	UserAddress string
	SellAmount  string
	BuyAmount   string
	Price       string
	Volume      string
	Status      string
	Refund      *string
	Reward      *string
	Spent       *string
	FinalTxHash *string
	BlockNumber int64
	Timestamp   int64
}

// AuctionRow is a row in entities.auctions.
type AuctionRow struct {
	AuctionID                int64
	AuctioningToken          string
	BiddingToken             string
	AuctioningSupply         string
	MinBuyAmount             string
	MinFundingThreshold      *string
	MinBiddingAmountPerOrder *string
	AuctioneerUserID         int64
	EndDate                  int64
	CancellationEndDate      int64
	ClearingPrice            string
	ClearingOrderUserID      int64
	ClearingOrderBuyAmount   *string
	ClearingOrderSellAmount  *string
	VolumeAtClearingPrice    *string
	CurrentVolume            string
	IsCleared                bool
	MinFundingNotReached     bool
	HighestBidOrderID        *string
	LowestBidOrderID         *string
	OrderCount               int64
	UniqueBidders            int64
	TxHash                   string
	BlockNumber              int64
	Timestamp                int64
}

// UserRow is a row in entities.users.
type UserRow struct {
	UserID    int64
	Address   string
	CreatedAt int64
}

// TokenRow is a row in entities.tokens.
type TokenRow struct {
	Address  string
	Symbol   string
	Decimals int32
}

// EntityBatch groups entity rows by table for one flush.
type EntityBatch struct {
	Orders   []OrderRow
	Auctions []AuctionRow
	Users    []UserRow
	Tokens   []TokenRow
}

// Len returns the total row count across all tables.
func (b *EntityBatch) Len() int {
	return len(b.Orders) + len(b.Auctions) + len(b.Users) + len(b.Tokens)
}

func (b *EntityBatch) reset() {
	b.Orders = b.Orders[:0]
	b.Auctions = b.Auctions[:0]
	b.Users = b.Users[:0]
	b.Tokens = b.Tokens[:0]
}

// Append converts one upserted entity into its table row. The batch
// writers collapse repeated keys to the last row before flushing.
func (b *EntityBatch) Append(e entity.Entity) {
	switch v := e.(type) {
	case *entity.Order:
		b.Orders = append(b.Orders, orderRow(v))
	case *entity.AuctionDetail:
		b.Auctions = append(b.Auctions, auctionRow(v))
	case *entity.User:
		b.Users = append(b.Users, UserRow{
			UserID:    int64(v.UserID),
			Address:   v.Address.Hex(),
			CreatedAt: v.CreatedAt,
		})
	case *entity.Token:
		b.Tokens = append(b.Tokens, TokenRow{
			Address:  v.Address.Hex(),
			Symbol:   v.Symbol,
			Decimals: v.Decimals,
		})
	}
}

func orderRow(o *entity.Order) OrderRow {
	row := OrderRow{
		OrderID:     o.OrderID,
		AuctionID:   int64(o.AuctionID),
		UserID:      int64(o.UserID),
		UserAddress: o.UserAddress.Hex(),
		SellAmount:  o.SellAmount.String(),
		BuyAmount:   o.BuyAmount.String(),
		Price:       o.Price.String(),
		Volume:      o.Volume.String(),
		Status:      o.Status.String(),
		BlockNumber: int64(o.BlockNumber),
		Timestamp:   o.Timestamp,
	}
	row.Refund = bigStr(o.Refund)
	row.Reward = bigStr(o.Reward)
	row.Spent = bigStr(o.Spent)
	if o.FinalTxHash != (common.Hash{}) {
		h := o.FinalTxHash.Hex()
		row.FinalTxHash = &h
	}
	return row
}

func auctionRow(a *entity.AuctionDetail) AuctionRow {
	row := AuctionRow{
		AuctionID:            int64(a.AuctionID),
		AuctioningToken:      a.AuctioningToken.Hex(),
		BiddingToken:         a.BiddingToken.Hex(),
		AuctioningSupply:     a.AuctioningSupply.String(),
		MinBuyAmount:         a.MinBuyAmount.String(),
		AuctioneerUserID:     int64(a.AuctioneerUserID),
		EndDate:              a.EndDate,
		CancellationEndDate:  a.CancellationEndDate,
		ClearingPrice:        a.ClearingPrice.String(),
		ClearingOrderUserID:  int64(a.ClearingOrderUserID),
		CurrentVolume:        a.CurrentVolume.String(),
		IsCleared:            a.IsCleared,
		MinFundingNotReached: a.MinFundingThresholdNotReached,
		OrderCount:           a.OrderCount,
		UniqueBidders:        a.UniqueBidders,
		TxHash:               a.TxHash.Hex(),
		BlockNumber:          int64(a.BlockNumber),
		Timestamp:            a.Timestamp,
	}
	row.MinFundingThreshold = bigStr(a.MinFundingThreshold)
	row.MinBiddingAmountPerOrder = bigStr(a.MinimumBiddingAmountPerOrder)
	row.ClearingOrderBuyAmount = bigStr(a.ClearingOrderBuyAmount)
	row.ClearingOrderSellAmount = bigStr(a.ClearingOrderSellAmount)
	row.VolumeAtClearingPrice = bigStr(a.VolumeAtClearingPrice)
	if a.HighestBidOrderID != "" {
		v := a.HighestBidOrderID
		row.HighestBidOrderID = &v
	}
	if a.LowestBidOrderID != "" {
		v := a.LowestBidOrderID
		row.LowestBidOrderID = &v
	}
	return row
}

func bigStr(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteEventBatch appends event rows. The sequence is the primary key, so
// replays of already-persisted events are no-ops.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, auction_id, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)
	for i, e := range events {
		base := i * 9
		values = append(values, placeholders(base, 9))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.AuctionID,
			string(e.Payload), e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteOrderBatch upserts order rows. Postgres rejects the same key twice
// within one INSERT ... DO UPDATE, so repeated keys collapse to the last
// row first.
func (w *EventLogWriter) WriteOrderBatch(ctx context.Context, tx execer, orders []OrderRow) error {
	orders = dedupeLast(orders, func(o OrderRow) string { return o.OrderID })
	if len(orders) == 0 {
		return nil
	}

	query := `INSERT INTO entities.orders
		(order_id, auction_id, user_id, user_address, sell_amount, buy_amount, price, volume, status,
		 refund, reward, spent, final_tx_hash, block_number, timestamp)
		VALUES `

	values := make([]string, 0, len(orders))
	args := make([]interface{}, 0, len(orders)*15)
	for i, o := range orders {
		base := i * 15
		values = append(values, placeholders(base, 15))
		args = append(args,
			o.OrderID, o.AuctionID, o.UserID, o.UserAddress,
			o.SellAmount, o.BuyAmount, o.Price, o.Volume, o.Status,
			o.Refund, o.Reward, o.Spent, o.FinalTxHash, o.BlockNumber, o.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (order_id) DO UPDATE SET
		status = EXCLUDED.status,
		refund = EXCLUDED.refund,
		reward = EXCLUDED.reward,
		spent = EXCLUDED.spent,
		final_tx_hash = EXCLUDED.final_tx_hash,
		block_number = EXCLUDED.block_number,
		timestamp = EXCLUDED.timestamp`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteAuctionBatch upserts auction rows. A batch usually carries the same
// auction several times (one detail row per order event); repeated keys
// collapse to the last row.
func (w *EventLogWriter) WriteAuctionBatch(ctx context.Context, tx execer, auctions []AuctionRow) error {
	auctions = dedupeLast(auctions, func(a AuctionRow) int64 { return a.AuctionID })
	if len(auctions) == 0 {
		return nil
	}

	query := `INSERT INTO entities.auctions
		(auction_id, auctioning_token, bidding_token, auctioning_supply, min_buy_amount,
		 min_funding_threshold, min_bidding_amount_per_order, auctioneer_user_id,
		 end_date, cancellation_end_date, clearing_price, clearing_order_user_id,
		 clearing_order_buy_amount, clearing_order_sell_amount, volume_at_clearing_price,
		 current_volume, is_cleared, min_funding_not_reached, highest_bid_order_id,
		 lowest_bid_order_id, order_count, unique_bidders, tx_hash, block_number, timestamp)
		VALUES `

	values := make([]string, 0, len(auctions))
	args := make([]interface{}, 0, len(auctions)*25)
	for i, a := range auctions {
		base := i * 25
		values = append(values, placeholders(base, 25))
		args = append(args,
			a.AuctionID, a.AuctioningToken, a.BiddingToken, a.AuctioningSupply, a.MinBuyAmount,
			a.MinFundingThreshold, a.MinBiddingAmountPerOrder, a.AuctioneerUserID,
			a.EndDate, a.CancellationEndDate, a.ClearingPrice, a.ClearingOrderUserID,
			a.ClearingOrderBuyAmount, a.ClearingOrderSellAmount, a.VolumeAtClearingPrice,
			a.CurrentVolume, a.IsCleared, a.MinFundingNotReached, a.HighestBidOrderID,
			a.LowestBidOrderID, a.OrderCount, a.UniqueBidders, a.TxHash, a.BlockNumber, a.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (auction_id) DO UPDATE SET
		clearing_price = EXCLUDED.clearing_price,
		clearing_order_user_id = EXCLUDED.clearing_order_user_id,
		clearing_order_buy_amount = EXCLUDED.clearing_order_buy_amount,
		clearing_order_sell_amount = EXCLUDED.clearing_order_sell_amount,
		volume_at_clearing_price = EXCLUDED.volume_at_clearing_price,
		current_volume = EXCLUDED.current_volume,
		is_cleared = EXCLUDED.is_cleared,
		min_funding_not_reached = EXCLUDED.min_funding_not_reached,
		highest_bid_order_id = EXCLUDED.highest_bid_order_id,
		lowest_bid_order_id = EXCLUDED.lowest_bid_order_id,
		order_count = EXCLUDED.order_count,
		unique_bidders = EXCLUDED.unique_bidders,
		tx_hash = EXCLUDED.tx_hash,
		block_number = EXCLUDED.block_number,
		timestamp = EXCLUDED.timestamp`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteUserBatch upserts user rows. Addresses never change for a userId;
// the upsert is a no-op on conflict.
func (w *EventLogWriter) WriteUserBatch(ctx context.Context, tx execer, users []UserRow) error {
	if len(users) == 0 {
		return nil
	}

	query := `INSERT INTO entities.users (user_id, address, created_at) VALUES `

	values := make([]string, 0, len(users))
	args := make([]interface{}, 0, len(users)*3)
	for i, u := range users {
		base := i * 3
		values = append(values, placeholders(base, 3))
		args = append(args, u.UserID, u.Address, u.CreatedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (user_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteTokenBatch upserts token rows. Repeated keys collapse to the last
// row.
func (w *EventLogWriter) WriteTokenBatch(ctx context.Context, tx execer, tokens []TokenRow) error {
	tokens = dedupeLast(tokens, func(t TokenRow) string { return t.Address })
	if len(tokens) == 0 {
		return nil
	}

	query := `INSERT INTO entities.tokens (address, symbol, decimals) VALUES `

	values := make([]string, 0, len(tokens))
	args := make([]interface{}, 0, len(tokens)*3)
	for i, t := range tokens {
		base := i * 3
		values = append(values, placeholders(base, 3))
		args = append(args, t.Address, t.Symbol, t.Decimals)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (address) DO UPDATE SET
		symbol = EXCLUDED.symbol,
		decimals = EXCLUDED.decimals`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// dedupeLast keeps the last row per key, preserving first-seen order.
func dedupeLast[R any, K comparable](rows []R, key func(R) K) []R {
	if len(rows) < 2 {
		return rows
	}
	idx := make(map[K]int, len(rows))
	out := make([]R, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}

func placeholders(base, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", base+i+1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
