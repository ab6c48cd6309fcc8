package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/moxie-protocol/auction-indexer/internal/core"
	"github.com/moxie-protocol/auction-indexer/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. It runs
// independently from the projector; the projector's blocking send
// guarantees no applied event is lost when this worker falls behind.
type Worker struct {
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timer fires. Blocks until ctx is cancelled or the input channel
// closes; remaining rows are flushed on the way out.
func (w *Worker) Run(ctx context.Context) error {
	events := make([]EventRow, 0, w.batchSize)
	var entities EntityBatch

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(events) > 0 {
				if err := w.flush(context.Background(), events, &entities); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				if len(events) > 0 {
					if err := w.flush(context.Background(), events, &entities); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			events = append(events, toEventRow(output))
			for _, e := range output.Upserts {
				entities.Append(e)
			}

			if len(events) >= w.batchSize {
				w.flushWithRetry(ctx, events, &entities)
				events = events[:0]
				entities.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(events) > 0 {
				w.flushWithRetry(ctx, events, &entities)
				events = events[:0]
				entities.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func toEventRow(output core.CoreOutput) EventRow {
	env := output.Envelope
	row := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        output.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}
	if env.AuctionID != nil {
		id := int64(*env.AuctionID)
		row.AuctionID = &id
	}
	return row
}

// flushWithRetry retries with exponential backoff and never drops a batch.
// On context cancellation one final flush runs with a background context
// so a graceful shutdown does not lose the tail.
func (w *Worker) flushWithRetry(ctx context.Context, events []EventRow, entities *EntityBatch) {
	batchID := uuid.New()
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Str("batch_id", batchID.String()).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(events)).
				Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}

			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), events, entities); err != nil {
					w.log.Error().Err(err).Str("batch_id", batchID.String()).Msg("flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, events, entities); err == nil {
			if attempt > 0 {
				w.log.Info().Str("batch_id", batchID.String()).Int("attempts", attempt+1).Msg("flush succeeded after retries")
			}
			return
		}
	}
}

// flush writes the event rows and entity upserts in one transaction.
func (w *Worker) flush(ctx context.Context, events []EventRow, entities *EntityBatch) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		w.persistError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, events); err != nil {
		w.persistError("write_events")
		return fmt.Errorf("write events: %w", err)
	}
	if err := w.writer.WriteUserBatch(ctx, tx, entities.Users); err != nil {
		w.persistError("write_users")
		return fmt.Errorf("write users: %w", err)
	}
	if err := w.writer.WriteTokenBatch(ctx, tx, entities.Tokens); err != nil {
		w.persistError("write_tokens")
		return fmt.Errorf("write tokens: %w", err)
	}
	if err := w.writer.WriteAuctionBatch(ctx, tx, entities.Auctions); err != nil {
		w.persistError("write_auctions")
		return fmt.Errorf("write auctions: %w", err)
	}
	if err := w.writer.WriteOrderBatch(ctx, tx, entities.Orders); err != nil {
		w.persistError("write_orders")
		return fmt.Errorf("write orders: %w", err)
	}

	if err := tx.Commit(); err != nil {
		w.persistError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistEventsWritten.Add(float64(len(events)))
		w.metrics.PersistEntitiesWritten.Add(float64(entities.Len()))
		if len(events) > 0 {
			w.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
		}
	}
	return nil
}

func (w *Worker) persistError(kind string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}

// Writer exposes the underlying writer for replay and tests.
func (w *Worker) Writer() *EventLogWriter { return w.writer }
