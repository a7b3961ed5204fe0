// Package models defines the data shapes shared across the trigger pipeline:
// registry events, triggers with their conditions and actions, action jobs,
// and the audit records they leave behind.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Registry names an on-chain registry an event originates from.
const (
	RegistryIdentity   = "identity"
	RegistryReputation = "reputation"
	RegistryValidation = "validation"
)

// Event is an immutable blockchain-registry record produced by the indexer.
// The (ChainID, BlockNumber, TransactionHash, LogIndex) tuple is globally
// unique; ID is the surrogate key derived from it.
type Event struct {
	ID              string `json:"id"`
	ChainID         int32  `json:"chain_id"`
	BlockNumber     int64  `json:"block_number"`
	BlockHash       string `json:"block_hash"`
	TransactionHash string `json:"transaction_hash"`
	LogIndex        int32  `json:"log_index"`
	Registry        string `json:"registry"`
	EventType       string `json:"event_type"`
	Timestamp       int64  `json:"timestamp"`

	// Identity registry payload
	AgentID       *int64  `json:"agent_id,omitempty"`
	Owner         *string `json:"owner,omitempty"`
	TokenURI      *string `json:"token_uri,omitempty"`
	MetadataKey   *string `json:"metadata_key,omitempty"`
	MetadataValue *string `json:"metadata_value,omitempty"`

	// Reputation registry payload
	ClientAddress *string `json:"client_address,omitempty"`
	FeedbackIndex *int32  `json:"feedback_index,omitempty"`
	Score         *int32  `json:"score,omitempty"`
	Tag1          *string `json:"tag1,omitempty"`
	Tag2          *string `json:"tag2,omitempty"`
	FileURI       *string `json:"file_uri,omitempty"`
	FileHash      *string `json:"file_hash,omitempty"`

	// Validation registry payload
	ValidatorAddress *string `json:"validator_address,omitempty"`
	RequestHash      *string `json:"request_hash,omitempty"`
	Response         *string `json:"response,omitempty"`
	ResponseURI      *string `json:"response_uri,omitempty"`
	ResponseHash     *string `json:"response_hash,omitempty"`
	Tag              *string `json:"tag,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DeriveEventID builds the surrogate id for the unique event tuple.
func DeriveEventID(chainID int32, blockNumber int64, txHash string, logIndex int32) string {
	return fmt.Sprintf("%d-%d-%s-%d", chainID, blockNumber, txHash, logIndex)
}

// TemplateData flattens the event into the variable set exposed to action
// templates. Only variables in this map are ever renderable.
func (e *Event) TemplateData() map[string]interface{} {
	data := map[string]interface{}{
		"event_id":         e.ID,
		"event_type":       e.EventType,
		"chain_id":         e.ChainID,
		"block_number":     e.BlockNumber,
		"transaction_hash": e.TransactionHash,
		"log_index":        e.LogIndex,
		"timestamp":        e.Timestamp,
		"registry":         e.Registry,
	}

	putInt64 := func(key string, v *int64) {
		if v != nil {
			data[key] = *v
		}
	}
	putInt32 := func(key string, v *int32) {
		if v != nil {
			data[key] = *v
		}
	}
	putString := func(key string, v *string) {
		if v != nil {
			data[key] = *v
		}
	}

	putInt64("agent_id", e.AgentID)
	putString("owner", e.Owner)
	putString("token_uri", e.TokenURI)
	putString("client_address", e.ClientAddress)
	putInt32("feedback_index", e.FeedbackIndex)
	putInt32("score", e.Score)
	putString("tag1", e.Tag1)
	putString("tag2", e.Tag2)
	putString("file_uri", e.FileURI)
	putString("file_hash", e.FileHash)
	putString("validator_address", e.ValidatorAddress)
	putString("request_hash", e.RequestHash)
	putString("response", e.Response)
	putString("response_uri", e.ResponseURI)
	putString("response_hash", e.ResponseHash)
	putString("validation_tag", e.Tag)

	if e.Tag1 != nil && e.Tag2 != nil {
		data["tags"] = []interface{}{*e.Tag1, *e.Tag2}
	}

	return data
}

// TemplateDataJSON serializes the template variable set for embedding in jobs.
func (e *Event) TemplateDataJSON() (json.RawMessage, error) {
	raw, err := json.Marshal(e.TemplateData())
	if err != nil {
		return nil, fmt.Errorf("marshal event template data: %w", err)
	}
	return raw, nil
}

// EventNotification is the JSON envelope published on the ingestion channel.
// A payload that fails to parse as this envelope is treated as a raw event id.
type EventNotification struct {
	EventID     string `json:"event_id"`
	ChainID     int32  `json:"chain_id"`
	BlockNumber int64  `json:"block_number"`
	EventType   string `json:"event_type"`
	Registry    string `json:"registry"`
}
