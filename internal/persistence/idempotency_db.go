package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresDedupChecker is the durable tier of the idempotency check. The
// projector consults it only on an LRU miss, so most events never touch
// the database.
type PostgresDedupChecker struct {
	db *sql.DB
}

func NewPostgresDedupChecker(db *sql.DB) *PostgresDedupChecker {
	return &PostgresDedupChecker{db: db}
}

// IsDuplicate reports whether the event is already in the event log.
func (c *PostgresDedupChecker) IsDuplicate(eventType, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE event_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, eventType, idempotencyKey).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the newest composite dedup keys for LRU warm-up
// after a restart. The composite shape matches the hot tier's.
func (c *PostgresDedupChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT event_type || ':' || idempotency_key
		FROM event_log.events
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
