package models

import (
	"encoding/json"
	"time"
)

// Condition kinds. The stateless kinds compare the event directly; the
// stateful kinds fold the event into persisted per-trigger state first.
const (
	ConditionAgentIDEquals   = "agent_id_equals"
	ConditionScoreThreshold  = "score_threshold"
	ConditionTagEquals       = "tag_equals"
	ConditionEventTypeEquals = "event_type_equals"
	ConditionEMAThreshold    = "ema_threshold"
	ConditionRateLimit       = "rate_limit"
)

// IsStatefulCondition reports whether the condition kind carries state.
func IsStatefulCondition(kind string) bool {
	return kind == ConditionEMAThreshold || kind == ConditionRateLimit
}

// Trigger is a user-owned rule scoped to one chain and registry.
type Trigger struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	ChainID        int32     `json:"chain_id"`
	Registry       string    `json:"registry"`
	Enabled        bool      `json:"enabled"`
	IsStateful     bool      `json:"is_stateful"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TriggerCondition is one boolean check belonging to a trigger. Config is only
// set for stateful kinds (window size, time window, reset flag).
type TriggerCondition struct {
	ID        int64           `json:"id"`
	TriggerID string          `json:"trigger_id"`
	Kind      string          `json:"condition_type"`
	Field     string          `json:"field"`
	Operator  string          `json:"operator"`
	Value     string          `json:"value"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// TriggerAction is one side effect attached to a trigger. Config is the
// kind-specific blob validated by the matching dispatcher.
type TriggerAction struct {
	ID        int64           `json:"id"`
	TriggerID string          `json:"trigger_id"`
	Kind      string          `json:"action_type"`
	Priority  int32           `json:"priority"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
}
