package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/triggerflow/internal/models"
)

func testEvent() *models.Event {
	agentID := int64(42)
	score := int32(85)
	tag1 := "trade"
	tag2 := "reliable"
	client := "0x123"
	return &models.Event{
		ID:              "test-event",
		ChainID:         84532,
		BlockNumber:     1000,
		BlockHash:       "0xabc",
		TransactionHash: "0xdef",
		LogIndex:        0,
		Registry:        models.RegistryReputation,
		EventType:       "NewFeedback",
		AgentID:         &agentID,
		Timestamp:       1234567890,
		ClientAddress:   &client,
		Score:           &score,
		Tag1:            &tag1,
		Tag2:            &tag2,
		CreatedAt:       time.Now(),
	}
}

func testCondition(kind, field, operator, value string) *models.TriggerCondition {
	return &models.TriggerCondition{
		ID:        1,
		TriggerID: "test-trigger",
		Kind:      kind,
		Field:     field,
		Operator:  operator,
		Value:     value,
		CreatedAt: time.Now(),
	}
}

func TestAgentIDEquals(t *testing.T) {
	event := testEvent()

	matched, err := evaluateStateless(testCondition(models.ConditionAgentIDEquals, "agent_id", "=", "42"), event)
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = evaluateStateless(testCondition(models.ConditionAgentIDEquals, "agent_id", "=", "99"), event)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestAgentIDEqualsMissingField(t *testing.T) {
	event := testEvent()
	event.AgentID = nil

	matched, err := evaluateStateless(testCondition(models.ConditionAgentIDEquals, "agent_id", "=", "42"), event)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestAgentIDEqualsInvalidValue(t *testing.T) {
	_, err := evaluateStateless(testCondition(models.ConditionAgentIDEquals, "agent_id", "=", "not_a_number"), testEvent())
	assert.Error(t, err)
}

func TestScoreThresholdOperators(t *testing.T) {
	tests := []struct {
		score    int32
		operator string
		value    string
		want     bool
	}{
		{50, "<", "60", true},
		{70, "<", "60", false},
		{90, ">", "80", true},
		{70, ">", "80", false},
		{60, "=", "60", true},
		{61, "=", "60", false},
		{60, "==", "60", true},
		{60, "<=", "60", true},
		{50, "<=", "60", true},
		{80, ">=", "80", true},
		{70, "!=", "60", true},
		{60, "!=", "60", false},
		{70, "<>", "60", true},
	}

	for _, tt := range tests {
		event := testEvent()
		event.Score = &tt.score
		matched, err := evaluateStateless(testCondition(models.ConditionScoreThreshold, "score", tt.operator, tt.value), event)
		require.NoError(t, err, "score %d %s %s", tt.score, tt.operator, tt.value)
		assert.Equal(t, tt.want, matched, "score %d %s %s", tt.score, tt.operator, tt.value)
	}
}

func TestScoreThresholdMissingScore(t *testing.T) {
	event := testEvent()
	event.Score = nil

	matched, err := evaluateStateless(testCondition(models.ConditionScoreThreshold, "score", "<", "60"), event)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestScoreThresholdInvalidOperator(t *testing.T) {
	_, err := evaluateStateless(testCondition(models.ConditionScoreThreshold, "score", "~", "60"), testEvent())
	assert.Error(t, err)
}

func TestScoreThresholdInvalidValue(t *testing.T) {
	_, err := evaluateStateless(testCondition(models.ConditionScoreThreshold, "score", "<", "not_a_number"), testEvent())
	assert.Error(t, err)
}

func TestTagEquals(t *testing.T) {
	event := testEvent()

	matched, err := evaluateStateless(testCondition(models.ConditionTagEquals, "tag1", "=", "trade"), event)
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = evaluateStateless(testCondition(models.ConditionTagEquals, "tag2", "=", "reliable"), event)
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = evaluateStateless(testCondition(models.ConditionTagEquals, "tag1", "=", "other"), event)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestTagEqualsMissingTag(t *testing.T) {
	event := testEvent()
	event.Tag1 = nil

	matched, err := evaluateStateless(testCondition(models.ConditionTagEquals, "tag1", "=", "trade"), event)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestTagEqualsInvalidField(t *testing.T) {
	_, err := evaluateStateless(testCondition(models.ConditionTagEquals, "tag3", "=", "trade"), testEvent())
	assert.Error(t, err)
}

func TestEventTypeEquals(t *testing.T) {
	event := testEvent()

	matched, err := evaluateStateless(testCondition(models.ConditionEventTypeEquals, "event_type", "=", "NewFeedback"), event)
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = evaluateStateless(testCondition(models.ConditionEventTypeEquals, "event_type", "=", "FeedbackRevoked"), event)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestUnknownConditionType(t *testing.T) {
	_, err := evaluateStateless(testCondition("unknown_type", "field", "=", "value"), testEvent())
	assert.Error(t, err)
}
