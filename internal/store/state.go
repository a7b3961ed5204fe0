package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/R3E-Network/triggerflow/infrastructure/errors"
)

// StateStore persists the opaque evaluator state envelope per trigger.
type StateStore struct {
	db *sql.DB
}

// NewStateStore creates a new trigger state store.
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// Load returns the state envelope for the trigger, or nil when absent.
func (s *StateStore) Load(ctx context.Context, triggerID string) (json.RawMessage, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state_data
		FROM trigger_state
		WHERE trigger_id = $1
	`, triggerID).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Database(fmt.Sprintf("load state for trigger %s", triggerID), err)
	}
	return json.RawMessage(data), nil
}

// Update upserts the state envelope. Last writer wins.
func (s *StateStore) Update(ctx context.Context, triggerID string, state json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_state (trigger_id, state_data, last_updated)
		VALUES ($1, $2, NOW())
		ON CONFLICT (trigger_id) DO UPDATE SET
			state_data = EXCLUDED.state_data,
			last_updated = NOW()
	`, triggerID, []byte(state))
	if err != nil {
		return errors.Database(fmt.Sprintf("update state for trigger %s", triggerID), err)
	}
	return nil
}

// Delete removes the state row.
func (s *StateStore) Delete(ctx context.Context, triggerID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM trigger_state
		WHERE trigger_id = $1
	`, triggerID)
	if err != nil {
		return errors.Database(fmt.Sprintf("delete state for trigger %s", triggerID), err)
	}
	return nil
}

// CleanupExpired removes rows whose last update is older than the retention
// window, returning the number of rows deleted.
func (s *StateStore) CleanupExpired(ctx context.Context, retentionDays int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM trigger_state
		WHERE last_updated < NOW() - INTERVAL '1 day' * $1
	`, retentionDays)
	if err != nil {
		return 0, errors.Database("cleanup expired trigger state", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// StateCount returns the number of persisted state rows.
func (s *StateStore) StateCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trigger_state`).Scan(&count)
	if err != nil {
		return 0, errors.Database("count trigger state rows", err)
	}
	return count, nil
}
