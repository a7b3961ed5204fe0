package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/R3E-Network/triggerflow/infrastructure/errors"
	"github.com/R3E-Network/triggerflow/internal/models"
)

// TriggerStore reads trigger rows and their relations, and carries the
// circuit-breaker columns persisted on the trigger row.
type TriggerStore struct {
	db *sql.DB
}

// NewTriggerStore creates a new trigger store.
func NewTriggerStore(db *sql.DB) *TriggerStore {
	return &TriggerStore{db: db}
}

// FetchMatching returns enabled triggers for the event's chain and registry,
// in creation order.
func (s *TriggerStore) FetchMatching(ctx context.Context, chainID int32, registry string) ([]*models.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, description, chain_id, registry, enabled, is_stateful, created_at, updated_at
		FROM triggers
		WHERE chain_id = $1 AND registry = $2 AND enabled = true
		ORDER BY created_at
	`, chainID, registry)
	if err != nil {
		return nil, errors.Database(fmt.Sprintf("fetch triggers (chain_id=%d, registry=%s)", chainID, registry), err)
	}
	defer rows.Close()

	var triggers []*models.Trigger
	for rows.Next() {
		var t models.Trigger
		var description sql.NullString
		if err := rows.Scan(
			&t.ID, &t.OrganizationID, &t.Name, &description, &t.ChainID,
			&t.Registry, &t.Enabled, &t.IsStateful, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, errors.Database("scan trigger", err)
		}
		t.Description = description.String
		triggers = append(triggers, &t)
	}
	return triggers, rows.Err()
}

// FetchRelations batch-loads all conditions and actions for the given trigger
// ids in exactly two queries, grouped by trigger id.
func (s *TriggerStore) FetchRelations(ctx context.Context, triggerIDs []string) (map[string][]*models.TriggerCondition, map[string][]*models.TriggerAction, error) {
	conditions := make(map[string][]*models.TriggerCondition)
	actions := make(map[string][]*models.TriggerAction)

	if len(triggerIDs) == 0 {
		return conditions, actions, nil
	}

	condRows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger_id, condition_type, field, operator, value, config, created_at
		FROM trigger_conditions
		WHERE trigger_id = ANY($1)
		ORDER BY trigger_id, id
	`, pq.Array(triggerIDs))
	if err != nil {
		return nil, nil, errors.Database("batch fetch trigger conditions", err)
	}
	defer condRows.Close()

	for condRows.Next() {
		var c models.TriggerCondition
		var cfg []byte
		if err := condRows.Scan(&c.ID, &c.TriggerID, &c.Kind, &c.Field, &c.Operator, &c.Value, &cfg, &c.CreatedAt); err != nil {
			return nil, nil, errors.Database("scan trigger condition", err)
		}
		if len(cfg) > 0 {
			c.Config = json.RawMessage(cfg)
		}
		conditions[c.TriggerID] = append(conditions[c.TriggerID], &c)
	}
	if err := condRows.Err(); err != nil {
		return nil, nil, err
	}

	actRows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger_id, action_type, priority, config, created_at
		FROM trigger_actions
		WHERE trigger_id = ANY($1)
		ORDER BY trigger_id, priority DESC, id
	`, pq.Array(triggerIDs))
	if err != nil {
		return nil, nil, errors.Database("batch fetch trigger actions", err)
	}
	defer actRows.Close()

	for actRows.Next() {
		var a models.TriggerAction
		var cfg []byte
		if err := actRows.Scan(&a.ID, &a.TriggerID, &a.Kind, &a.Priority, &cfg, &a.CreatedAt); err != nil {
			return nil, nil, errors.Database("scan trigger action", err)
		}
		a.Config = json.RawMessage(cfg)
		actions[a.TriggerID] = append(actions[a.TriggerID], &a)
	}
	if err := actRows.Err(); err != nil {
		return nil, nil, err
	}

	return conditions, actions, nil
}

// LoadBreakerColumns reads the circuit-breaker config and state JSON for one
// trigger. Either value may be nil when the column has never been written.
func (s *TriggerStore) LoadBreakerColumns(ctx context.Context, triggerID string) (config, state json.RawMessage, err error) {
	var cfg, st []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT circuit_breaker_config, circuit_breaker_state
		FROM triggers
		WHERE id = $1
	`, triggerID).Scan(&cfg, &st)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, errors.NotFound("trigger", triggerID)
		}
		return nil, nil, errors.Database(fmt.Sprintf("load breaker columns for trigger %s", triggerID), err)
	}
	if len(cfg) > 0 {
		config = json.RawMessage(cfg)
	}
	if len(st) > 0 {
		state = json.RawMessage(st)
	}
	return config, state, nil
}

// SaveBreakerState writes the circuit-breaker state JSON back to the trigger row.
func (s *TriggerStore) SaveBreakerState(ctx context.Context, triggerID string, state json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE triggers
		SET circuit_breaker_state = $1
		WHERE id = $2
	`, []byte(state), triggerID)
	if err != nil {
		return errors.Database(fmt.Sprintf("persist breaker state for trigger %s", triggerID), err)
	}
	return nil
}
