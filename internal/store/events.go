package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/R3E-Network/triggerflow/infrastructure/errors"
	"github.com/R3E-Network/triggerflow/internal/models"
)

// EventStore reads indexer-produced event rows.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates a new event store.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `
	id, chain_id, block_number, block_hash, transaction_hash, log_index,
	registry, event_type, timestamp, agent_id, owner, token_uri, metadata_key,
	metadata_value, client_address, feedback_index, score, tag1, tag2,
	file_uri, file_hash, validator_address, request_hash, response,
	response_uri, response_hash, tag, created_at`

// GetEvent fetches a single event by its surrogate id.
func (s *EventStore) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = $1
	`, eventID)

	ev, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("event", eventID)
		}
		return nil, errors.Database(fmt.Sprintf("fetch event %s", eventID), err)
	}
	return ev, nil
}

// ListUnprocessed returns ids of events older than the grace interval that
// have no ledger row yet. This is the poller's safety net for notifications
// lost while the listener was down.
func (s *EventStore) ListUnprocessed(ctx context.Context, grace time.Duration, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id
		FROM events e
		LEFT JOIN processed_events p ON p.event_id = e.id
		WHERE p.event_id IS NULL
		  AND e.created_at < NOW() - $1::interval
		ORDER BY e.created_at
		LIMIT $2
	`, fmt.Sprintf("%d seconds", int(grace.Seconds())), limit)
	if err != nil {
		return nil, errors.Database("list unprocessed events", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Database("scan unprocessed event id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		ev            models.Event
		agentID       sql.NullInt64
		owner         sql.NullString
		tokenURI      sql.NullString
		metadataKey   sql.NullString
		metadataValue sql.NullString
		clientAddr    sql.NullString
		feedbackIndex sql.NullInt32
		score         sql.NullInt32
		tag1          sql.NullString
		tag2          sql.NullString
		fileURI       sql.NullString
		fileHash      sql.NullString
		validatorAddr sql.NullString
		requestHash   sql.NullString
		response      sql.NullString
		responseURI   sql.NullString
		responseHash  sql.NullString
		tag           sql.NullString
	)

	err := row.Scan(
		&ev.ID, &ev.ChainID, &ev.BlockNumber, &ev.BlockHash, &ev.TransactionHash, &ev.LogIndex,
		&ev.Registry, &ev.EventType, &ev.Timestamp, &agentID, &owner, &tokenURI, &metadataKey,
		&metadataValue, &clientAddr, &feedbackIndex, &score, &tag1, &tag2,
		&fileURI, &fileHash, &validatorAddr, &requestHash, &response,
		&responseURI, &responseHash, &tag, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if agentID.Valid {
		ev.AgentID = &agentID.Int64
	}
	ev.Owner = nullString(owner)
	ev.TokenURI = nullString(tokenURI)
	ev.MetadataKey = nullString(metadataKey)
	ev.MetadataValue = nullString(metadataValue)
	ev.ClientAddress = nullString(clientAddr)
	if feedbackIndex.Valid {
		ev.FeedbackIndex = &feedbackIndex.Int32
	}
	if score.Valid {
		ev.Score = &score.Int32
	}
	ev.Tag1 = nullString(tag1)
	ev.Tag2 = nullString(tag2)
	ev.FileURI = nullString(fileURI)
	ev.FileHash = nullString(fileHash)
	ev.ValidatorAddress = nullString(validatorAddr)
	ev.RequestHash = nullString(requestHash)
	ev.Response = nullString(response)
	ev.ResponseURI = nullString(responseURI)
	ev.ResponseHash = nullString(responseHash)
	ev.Tag = nullString(tag)

	return &ev, nil
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		return &v.String
	}
	return nil
}
