package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/moxie-protocol/auction-indexer/internal/persistence"
	"github.com/moxie-protocol/auction-indexer/internal/testutil"
)

func TestEventLogRoundTrip_Integration(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	migrator := persistence.NewMigrator(db, testutil.MigrationsDir(), zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewEventLogWriter(db)
	events := []persistence.EventRow{
		{
			Sequence:       0,
			EventType:      "NewUser",
			IdempotencyKey: "0xaa:0",
			Payload:        []byte(`{"UserID":1}`),
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
			Timestamp:      time.Unix(1_700_000_000, 0).UTC(),
			SourceSequence: 100 << 20,
		},
		{
			Sequence:       1,
			EventType:      "NewAuction",
			IdempotencyKey: "0xbb:0",
			Payload:        []byte(`{"ID":1}`),
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
			Timestamp:      time.Unix(1_700_000_010, 0).UTC(),
			SourceSequence: 101 << 20,
		},
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteEventBatch(ctx, tx, events); err != nil {
		t.Fatalf("write events: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)

	head, err := snapMgr.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if head != 1 {
		t.Errorf("latest sequence: got %d, want 1", head)
	}

	rows, err := snapMgr.LoadEventsFrom(ctx, 0, 10)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("loaded events: got %d, want 2", len(rows))
	}
	if rows[0].EventType != "NewUser" || rows[1].EventType != "NewAuction" {
		t.Errorf("event types: got %s/%s", rows[0].EventType, rows[1].EventType)
	}
	if string(rows[0].Payload) != `{"UserID":1}` {
		t.Errorf("payload: got %s", rows[0].Payload)
	}

	// Re-writing sequence 0 is a no-op; the event log is append-only.
	tx2, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	dup := events[0]
	dup.Payload = []byte(`{"UserID":999}`)
	if err := writer.WriteEventBatch(ctx, tx2, []persistence.EventRow{dup}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	rows, err = snapMgr.LoadEventsFrom(ctx, 0, 1)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if string(rows[0].Payload) != `{"UserID":1}` {
		t.Error("append-only event log was overwritten")
	}

	// The durable dedup tier sees the persisted rows.
	checker := persistence.NewPostgresDedupChecker(db)
	isDup, err := checker.IsDuplicate("NewUser", "0xaa:0")
	if err != nil {
		t.Fatalf("dedup check: %v", err)
	}
	if !isDup {
		t.Error("persisted event not reported as duplicate")
	}
	isDup, err = checker.IsDuplicate("NewUser", "0xcc:0")
	if err != nil {
		t.Fatalf("dedup check: %v", err)
	}
	if isDup {
		t.Error("unknown key reported as duplicate")
	}

	keys, err := checker.RecentKeys(ctx, 10)
	if err != nil {
		t.Fatalf("recent keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "NewAuction:0xbb:0" {
		t.Errorf("recent keys: got %v", keys)
	}
}
