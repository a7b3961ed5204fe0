package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/R3E-Network/triggerflow/infrastructure/errors"
	"github.com/R3E-Network/triggerflow/internal/models"
)

// ResultLog is the append-only audit of every action attempt's terminal
// outcome. Rows reference trigger ids that may since have been deleted;
// readers left-join defensively.
type ResultLog struct {
	db *sql.DB
}

// NewResultLog creates a new action result logger.
func NewResultLog(db *sql.DB) *ResultLog {
	return &ResultLog{db: db}
}

// Log appends one result record.
func (l *ResultLog) Log(ctx context.Context, result *models.ActionResult) error {
	var errValue sql.NullString
	if result.Error != "" {
		errValue = sql.NullString{String: result.Error, Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO action_results (job_id, trigger_id, event_id, action_type, status, duration_ms, attempts, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, result.JobID, result.TriggerID, result.EventID, result.ActionType,
		result.Status, result.DurationMS, result.Attempts, errValue)
	if err != nil {
		return errors.Database(fmt.Sprintf("log action result for job %s", result.JobID), err)
	}
	return nil
}
