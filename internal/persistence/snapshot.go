package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/moxie-protocol/auction-indexer/internal/auction"
	"github.com/moxie-protocol/auction-indexer/internal/core"
	"github.com/moxie-protocol/auction-indexer/internal/entity"
	"github.com/moxie-protocol/auction-indexer/internal/state"
	"github.com/moxie-protocol/auction-indexer/internal/store"
)

// SnapshotManager stores and loads point-in-time captures of the
// projector's in-memory state. A warm restart loads the latest verified
// snapshot and replays events from snapshot.sequence forward instead of
// replaying the whole log.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the full in-memory state at one sequence.
type SnapshotData struct {
	Sequence        int64                     `json:"sequence"`
	StateHash       []byte                    `json:"state_hash"` // integrity chain tip
	Auctions        []AuctionSnapshot         `json:"auctions"`
	Users           map[uint64]common.Address `json:"users"`
	Watermarks      map[string]int64          `json:"watermarks"`
	IdempotencyKeys []string                  `json:"idempotency_keys"` // recent keys for LRU warming
	CreatedAt       time.Time                 `json:"created_at"`
}

// AuctionSnapshot is one serialized auction aggregate. OrderEntities are
// the persisted views of the active orders; claims load them from the
// store after a restart.
type AuctionSnapshot struct {
	Detail             *entity.AuctionDetail `json:"detail"`
	DecimalsAuctioning int32                 `json:"decimals_auctioning"`
	DecimalsBidding    int32                 `json:"decimals_bidding"`
	ActiveOrders       []auction.Order       `json:"active_orders"`
	OrderEntities      []*entity.Order       `json:"order_entities"`
	Bidders            []uint64              `json:"bidders"`
	Current            *auction.Result       `json:"current,omitempty"`
	Final              *auction.Result       `json:"final,omitempty"`
}

// BuildSnapshot captures the projector's state. Must run on the projector
// goroutine, between events.
func BuildSnapshot(p *core.Projector, dedupKeyCount int) *SnapshotData {
	tip := p.StateHash()

	var auctions []AuctionSnapshot
	for _, st := range p.Auctions().All() {
		active := st.ActiveOrders()
		orderEntities := make([]*entity.Order, 0, len(active))
		for _, o := range active {
			if ord, ok := store.LoadOrder(p.Entities(), o.ID()); ok {
				orderEntities = append(orderEntities, ord)
			}
		}
		auctions = append(auctions, AuctionSnapshot{
			Detail:             st.Detail,
			DecimalsAuctioning: st.DecimalsAuctioning,
			DecimalsBidding:    st.DecimalsBidding,
			ActiveOrders:       active,
			OrderEntities:      orderEntities,
			Bidders:            st.Bidders(),
			Current:            st.Current,
			Final:              st.Final,
		})
	}

	return &SnapshotData{
		Sequence:        p.Sequence(),
		StateHash:       tip[:],
		Auctions:        auctions,
		Users:           p.Users().Snapshot(),
		Watermarks:      p.OrderValidator().Snapshot(),
		IdempotencyKeys: p.Dedup().RecentKeys(dedupKeyCount),
		CreatedAt:       time.Now().UTC(),
	}
}

// RestoreSnapshot loads a snapshot back into a freshly constructed
// projector and its entity store. The projector must have been created
// with startSequence = snap.Sequence.
func RestoreSnapshot(p *core.Projector, entities store.Store, snap *SnapshotData) error {
	var tip [32]byte
	if len(snap.StateHash) != len(tip) {
		return fmt.Errorf("snapshot state hash has %d bytes", len(snap.StateHash))
	}
	copy(tip[:], snap.StateHash)
	p.RestoreHashChain(tip)

	for _, a := range snap.Auctions {
		st := &state.AuctionState{
			Detail:             a.Detail,
			Current:            a.Current,
			Final:              a.Final,
			DecimalsAuctioning: a.DecimalsAuctioning,
			DecimalsBidding:    a.DecimalsBidding,
		}
		p.Auctions().Restore(st, a.ActiveOrders, a.Bidders)
		entities.Save(a.Detail)
		for _, ord := range a.OrderEntities {
			entities.Save(ord)
		}
	}

	p.Users().Restore(snap.Users)
	p.OrderValidator().Restore(snap.Watermarks)
	p.Dedup().WarmFromKeys(snap.IdempotencyKeys)
	return nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. One row per sequence; re-snapshotting
// the same sequence overwrites.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, string(data), snap.StateHash, formatVersion, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified flags a snapshot after its replay check passed.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom pages through the event log for replay after snapshot
// recovery.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, auction_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.AuctionID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSequence returns the highest sequence in the event log, or zero
// when the log is empty.
func (sm *SnapshotManager) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
