package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveEventID(t *testing.T) {
	id := DeriveEventID(84532, 1000, "0xdef", 3)
	assert.Equal(t, "84532-1000-0xdef-3", id)
}

func TestParseActionType(t *testing.T) {
	for input, want := range map[string]ActionType{
		"chat":   ActionChat,
		"rest":   ActionRest,
		"tool":   ActionTool,
		"CHAT":   ActionChat,
		" rest ": ActionRest,
	} {
		got, err := ParseActionType(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseActionType("webhook")
	assert.Error(t, err)
	_, err = ParseActionType("")
	assert.Error(t, err)
}

func TestNewActionJobAssignsRandomID(t *testing.T) {
	a := NewActionJob("t1", "e1", ActionRest, 1, json.RawMessage(`{}`), json.RawMessage(`{}`))
	b := NewActionJob("t1", "e1", ActionRest, 1, json.RawMessage(`{}`), json.RawMessage(`{}`))

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "t1", a.TriggerID)
	assert.Equal(t, "e1", a.EventID)
}

func TestTemplateDataIncludesOnlyPresentFields(t *testing.T) {
	agentID := int64(42)
	score := int32(85)
	tag1 := "trade"
	ev := &Event{
		ID:              "ev-1",
		ChainID:         84532,
		BlockNumber:     1000,
		TransactionHash: "0xdef",
		Registry:        RegistryReputation,
		EventType:       "NewFeedback",
		Timestamp:       1234567890,
		AgentID:         &agentID,
		Score:           &score,
		Tag1:            &tag1,
	}

	data := ev.TemplateData()
	assert.Equal(t, "ev-1", data["event_id"])
	assert.Equal(t, int64(42), data["agent_id"])
	assert.Equal(t, int32(85), data["score"])
	assert.Equal(t, "trade", data["tag1"])
	assert.Equal(t, "reputation", data["registry"])

	_, hasOwner := data["owner"]
	assert.False(t, hasOwner, "absent fields must not appear in template data")
	_, hasTags := data["tags"]
	assert.False(t, hasTags, "tags requires both tag1 and tag2")
}

func TestTemplateDataTagsPair(t *testing.T) {
	tag1, tag2 := "trade", "reliable"
	ev := &Event{ID: "ev-1", Tag1: &tag1, Tag2: &tag2}

	data := ev.TemplateData()
	assert.Equal(t, []interface{}{"trade", "reliable"}, data["tags"])
}

func TestTemplateDataJSONRoundTrips(t *testing.T) {
	agentID := int64(7)
	ev := &Event{ID: "ev-2", AgentID: &agentID, ChainID: 1}

	raw, err := ev.TemplateDataJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(7), decoded["agent_id"])
	assert.Equal(t, "ev-2", decoded["event_id"])
}

func TestResultConstructors(t *testing.T) {
	job := NewActionJob("t1", "e1", ActionChat, 0, json.RawMessage(`{}`), json.RawMessage(`{}`))

	success := SuccessResult(job, 1500000000, 2) // 1.5s
	assert.Equal(t, ResultSuccess, success.Status)
	assert.Equal(t, int64(1500), success.DurationMS)
	assert.Equal(t, 2, success.Attempts)
	assert.Empty(t, success.Error)

	failure := FailureResult(job, 2000000000, 3, "boom")
	assert.Equal(t, ResultFailed, failure.Status)
	assert.Equal(t, "boom", failure.Error)
	assert.Equal(t, 3, failure.Attempts)
}

func TestIsStatefulCondition(t *testing.T) {
	assert.True(t, IsStatefulCondition(ConditionEMAThreshold))
	assert.True(t, IsStatefulCondition(ConditionRateLimit))
	assert.False(t, IsStatefulCondition(ConditionAgentIDEquals))
	assert.False(t, IsStatefulCondition(ConditionScoreThreshold))
}
