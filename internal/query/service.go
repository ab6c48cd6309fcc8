package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned for lookups of unknown auctions, orders, or
// users.
var ErrNotFound = errors.New("not found")

// Service provides read-only access to the entity and projection tables.
// Every response carries as_of_sequence so clients can reason about
// freshness against the persisted event log.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetAuction returns the full detail of one auction from the entity
// table.
func (s *Service) GetAuction(ctx context.Context, auctionID int64) (*AuctionResponse, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var a AuctionResponse
	a.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT auction_id, auctioning_token, bidding_token, auctioning_supply,
		       min_buy_amount, min_funding_threshold, auctioneer_user_id,
		       end_date, cancellation_end_date, clearing_price, current_volume,
		       is_cleared, min_funding_not_reached, highest_bid_order_id,
		       lowest_bid_order_id, order_count, unique_bidders
		FROM entities.auctions
		WHERE auction_id = $1
	`, auctionID).Scan(
		&a.AuctionID, &a.AuctioningToken, &a.BiddingToken, &a.AuctioningSupply,
		&a.MinBuyAmount, &a.MinFundingThreshold, &a.AuctioneerUserID,
		&a.EndDate, &a.CancellationEndDate, &a.ClearingPrice, &a.CurrentVolume,
		&a.IsCleared, &a.MinFundingNotReached, &a.HighestBidOrderID,
		&a.LowestBidOrderID, &a.OrderCount, &a.UniqueBidders,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: auction %d", ErrNotFound, auctionID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAuctions pages through the auction summary projection, newest end
// date first.
func (s *Service) ListAuctions(ctx context.Context, limit, offset int) ([]AuctionSummaryResponse, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT auction_id, auctioning_token, bidding_token, clearing_price,
		       current_volume, order_count, unique_bidders, is_cleared, end_date
		FROM projections.auction_summary
		ORDER BY end_date DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []AuctionSummaryResponse
	for rows.Next() {
		var a AuctionSummaryResponse
		a.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&a.AuctionID, &a.AuctioningToken, &a.BiddingToken, &a.ClearingPrice,
			&a.CurrentVolume, &a.OrderCount, &a.UniqueBidders, &a.IsCleared, &a.EndDate,
		); err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

// GetOrder returns one bid by its canonical ID.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var o OrderResponse
	o.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT order_id, auction_id, user_id, user_address, sell_amount,
		       buy_amount, price, volume, status, refund, reward, spent,
		       final_tx_hash, block_number, timestamp
		FROM entities.orders
		WHERE order_id = $1
	`, orderID).Scan(
		&o.OrderID, &o.AuctionID, &o.UserID, &o.UserAddress, &o.SellAmount,
		&o.BuyAmount, &o.Price, &o.Volume, &o.Status, &o.Refund, &o.Reward,
		&o.Spent, &o.FinalTxHash, &o.BlockNumber, &o.Timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrdersByAuction returns an auction's bids sorted by descending
// price, the same ranking the clearing comparator uses. An empty status
// returns all lifecycle states.
func (s *Service) ListOrdersByAuction(ctx context.Context, auctionID int64, status string, limit, offset int) ([]OrderResponse, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, auction_id, user_id, user_address, sell_amount,
		       buy_amount, price, volume, status, refund, reward, spent,
		       final_tx_hash, block_number, timestamp
		FROM entities.orders
		WHERE auction_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY price DESC, buy_amount ASC, user_id ASC
		LIMIT $3 OFFSET $4
	`, auctionID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []OrderResponse
	for rows.Next() {
		var o OrderResponse
		o.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&o.OrderID, &o.AuctionID, &o.UserID, &o.UserAddress, &o.SellAmount,
			&o.BuyAmount, &o.Price, &o.Volume, &o.Status, &o.Refund, &o.Reward,
			&o.Spent, &o.FinalTxHash, &o.BlockNumber, &o.Timestamp,
		); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetUser resolves a contract userId to its registered address.
func (s *Service) GetUser(ctx context.Context, userID int64) (*UserResponse, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var u UserResponse
	u.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id, address, created_at
		FROM entities.users
		WHERE user_id = $1
	`, userID).Scan(&u.UserID, &u.Address, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// watermark returns the projection worker's last applied sequence. Zero
// when the worker has not written yet.
func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
