package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/moxie-protocol/auction-indexer/internal/core"
	"github.com/moxie-protocol/auction-indexer/internal/entity"
)

// Worker maintains the read-optimized projections.auction_summary table
// from processed events. The projection channel is non-blocking with drop,
// so this table is eventually consistent and rebuildable from the entity
// tables whenever it falls behind.
type Worker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	log       zerolog.Logger
}

func NewWorker(db *sql.DB, inputChan <-chan core.CoreOutput, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		log:       log,
	}
}

// Run consumes core outputs until ctx is cancelled or the channel closes.
// Failed updates are logged and skipped; the table catches up on rebuild.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.processOutput(ctx, output); err != nil {
				w.log.Warn().
					Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Msg("projection update failed")
			}
			w.lastSeq = output.Envelope.Sequence
		}
	}
}

func (w *Worker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range output.Upserts {
		detail, ok := e.(*entity.AuctionDetail)
		if !ok {
			continue
		}
		if err := w.updateSummary(ctx, tx, detail, output.Envelope.Sequence); err != nil {
			return fmt.Errorf("auction summary: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Envelope.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) updateSummary(ctx context.Context, tx *sql.Tx, d *entity.AuctionDetail, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.auction_summary
			(auction_id, auctioning_token, bidding_token, clearing_price, current_volume,
			 order_count, unique_bidders, is_cleared, min_funding_not_reached, end_date, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (auction_id) DO UPDATE SET
			clearing_price = EXCLUDED.clearing_price,
			current_volume = EXCLUDED.current_volume,
			order_count = EXCLUDED.order_count,
			unique_bidders = EXCLUDED.unique_bidders,
			is_cleared = EXCLUDED.is_cleared,
			min_funding_not_reached = EXCLUDED.min_funding_not_reached,
			last_sequence = EXCLUDED.last_sequence
	`, int64(d.AuctionID), d.AuctioningToken.Hex(), d.BiddingToken.Hex(),
		d.ClearingPrice.String(), d.CurrentVolume.String(),
		d.OrderCount, d.UniqueBidders, d.IsCleared, d.MinFundingThresholdNotReached,
		d.EndDate, seq)
	return err
}

// Rebuild repopulates the summary table from the entity tables. Run when
// drops were observed or after a schema change.
func Rebuild(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	statements := []string{
		`TRUNCATE projections.auction_summary`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.auction_summary
			(auction_id, auctioning_token, bidding_token, clearing_price, current_volume,
			 order_count, unique_bidders, is_cleared, min_funding_not_reached, end_date, last_sequence)
		SELECT
			auction_id, auctioning_token, bidding_token, clearing_price, current_volume,
			order_count, unique_bidders, is_cleared, min_funding_not_reached, end_date, 0
		FROM entities.auctions
	`)
	if err != nil {
		return fmt.Errorf("rebuild auction summary: %w", err)
	}

	log.Info().Msg("projection rebuild complete")
	return nil
}
