// Package engine evaluates trigger conditions against events. Stateless
// evaluators compare event fields directly; stateful evaluators (EMA, rate
// counter) fold the event into persisted per-trigger state. The engine
// composes conditions with AND semantics and coordinates state persistence.
package engine

import (
	"fmt"
	"strconv"

	"github.com/R3E-Network/triggerflow/internal/models"
)

// evaluateStateless dispatches one stateless condition.
func evaluateStateless(condition *models.TriggerCondition, event *models.Event) (bool, error) {
	var (
		matched bool
		err     error
	)

	switch condition.Kind {
	case models.ConditionAgentIDEquals:
		matched, err = evaluateAgentIDEquals(condition, event)
	case models.ConditionScoreThreshold:
		matched, err = evaluateScoreThreshold(condition, event)
	case models.ConditionTagEquals:
		matched, err = evaluateTagEquals(condition, event)
	case models.ConditionEventTypeEquals:
		matched = event.EventType == condition.Value
	default:
		return false, fmt.Errorf("unknown condition type: %s", condition.Kind)
	}

	if err != nil {
		return false, fmt.Errorf("condition id=%d type=%s trigger=%s: %w",
			condition.ID, condition.Kind, condition.TriggerID, err)
	}
	return matched, nil
}

// evaluateAgentIDEquals matches when event.agent_id equals the condition
// value. A missing field never matches.
func evaluateAgentIDEquals(condition *models.TriggerCondition, event *models.Event) (bool, error) {
	target, err := strconv.ParseInt(condition.Value, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid agent_id value: %s", condition.Value)
	}
	if event.AgentID == nil {
		return false, nil
	}
	return *event.AgentID == target, nil
}

// evaluateScoreThreshold compares event.score against the condition value
// using the condition operator. A missing score never matches.
func evaluateScoreThreshold(condition *models.TriggerCondition, event *models.Event) (bool, error) {
	threshold, err := strconv.ParseInt(condition.Value, 10, 32)
	if err != nil {
		return false, fmt.Errorf("invalid score threshold value: %s", condition.Value)
	}
	if event.Score == nil {
		return false, nil
	}
	return compareInt(int64(*event.Score), threshold, condition.Operator)
}

// evaluateTagEquals matches the tag1 or tag2 field against the condition
// value. Only those two fields are addressable.
func evaluateTagEquals(condition *models.TriggerCondition, event *models.Event) (bool, error) {
	var tag *string
	switch condition.Field {
	case "tag1":
		tag = event.Tag1
	case "tag2":
		tag = event.Tag2
	default:
		return false, fmt.Errorf("invalid tag field: %s (expected 'tag1' or 'tag2')", condition.Field)
	}
	if tag == nil {
		return false, nil
	}
	return *tag == condition.Value, nil
}

func compareInt(value, threshold int64, operator string) (bool, error) {
	switch operator {
	case "<":
		return value < threshold, nil
	case ">":
		return value > threshold, nil
	case "=", "==":
		return value == threshold, nil
	case "<=":
		return value <= threshold, nil
	case ">=":
		return value >= threshold, nil
	case "!=", "<>":
		return value != threshold, nil
	default:
		return false, fmt.Errorf("invalid operator: %s", operator)
	}
}

func compareFloat(value, threshold float64, operator string) (bool, error) {
	const epsilon = 1e-9
	switch operator {
	case "<":
		return value < threshold, nil
	case ">":
		return value > threshold, nil
	case "=", "==":
		return abs(value-threshold) < epsilon, nil
	case "<=":
		return value <= threshold, nil
	case ">=":
		return value >= threshold, nil
	case "!=", "<>":
		return abs(value-threshold) >= epsilon, nil
	default:
		return false, fmt.Errorf("invalid operator: %s", operator)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
