package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/R3E-Network/triggerflow/infrastructure/errors"
	"github.com/R3E-Network/triggerflow/internal/models"
)

// DLQ is the terminal failure store. Entries are append-only from the
// pipeline's point of view; requeueing is external tooling.
type DLQ struct {
	db *sql.DB
}

// NewDLQ creates a new dead letter queue store.
func NewDLQ(db *sql.DB) *DLQ {
	return &DLQ{db: db}
}

// Push records a terminally-failed job with its last error.
func (q *DLQ) Push(ctx context.Context, job *models.ActionJob, lastError string, attempts int) error {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return errors.Internal(fmt.Sprintf("marshal job %s for DLQ", job.ID), err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO dlq_entries (job_id, trigger_id, event_id, action_type, job_data, last_error, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, job.ID, job.TriggerID, job.EventID, string(job.ActionType), jobJSON, lastError, attempts)
	if err != nil {
		return errors.Database(fmt.Sprintf("push job %s to DLQ", job.ID), err)
	}
	return nil
}
