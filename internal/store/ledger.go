package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/R3E-Network/triggerflow/infrastructure/errors"
)

// Ledger is the idempotency boundary: one row per processed event id.
// Marking is insert-if-absent, so concurrent marks from two processor
// instances collapse to a single row.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a new idempotency ledger.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// IsProcessed reports whether the event id already has a ledger row.
func (l *Ledger) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)
	`, eventID).Scan(&exists)
	if err != nil {
		return false, errors.Database(fmt.Sprintf("check processed event %s", eventID), err)
	}
	return exists, nil
}

// MarkProcessed records the event as processed with diagnostic metadata.
// A duplicate mark is a no-op.
func (l *Ledger) MarkProcessed(ctx context.Context, eventID, instance string, durationMS, matched, enqueued int) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_events
			(event_id, processor_instance, processing_duration_ms, triggers_matched, actions_enqueued)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, instance, durationMS, matched, enqueued)
	if err != nil {
		return errors.Database(fmt.Sprintf("mark event %s processed", eventID), err)
	}
	return nil
}
