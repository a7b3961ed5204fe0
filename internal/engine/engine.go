package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/internal/models"
	"github.com/R3E-Network/triggerflow/internal/statestore"
)

// Engine evaluates a trigger's conditions against an event.
type Engine struct {
	states statestore.Store
	logger *logging.Logger
}

// New creates a condition engine over the given state store.
func New(states statestore.Store, logger *logging.Logger) *Engine {
	return &Engine{states: states, logger: logger}
}

// Evaluate runs the AND-composed condition list. An empty list matches every
// event. The first failing condition short-circuits, but state emitted by
// stateful conditions evaluated before the failure is still persisted: the
// state reflects all events, not only matches.
func (e *Engine) Evaluate(ctx context.Context, trigger *models.Trigger, conditions []*models.TriggerCondition, event *models.Event) (bool, error) {
	if len(conditions) == 0 {
		e.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"trigger_id": trigger.ID,
		}).Warn("Trigger has no conditions - will match ALL events")
		return true, nil
	}

	// Stateful triggers load prior state once; every stateful condition in
	// the list reads and replaces the same envelope.
	var priorState json.RawMessage
	if trigger.IsStateful {
		var err error
		priorState, err = e.states.Load(ctx, trigger.ID)
		if err != nil {
			return false, fmt.Errorf("load state for trigger %s: %w", trigger.ID, err)
		}
	}

	var newState json.RawMessage

	for _, condition := range conditions {
		var (
			matched bool
			err     error
		)

		switch condition.Kind {
		case models.ConditionEMAThreshold:
			matched, newState, err = e.evaluateEMA(condition, event, priorState)
		case models.ConditionRateLimit:
			matched, newState, err = e.evaluateRateCounter(condition, event, priorState)
		default:
			matched, err = evaluateStateless(condition, event)
		}

		if err != nil {
			return false, err
		}

		if !matched {
			if newState != nil {
				if err := e.states.Update(ctx, trigger.ID, newState); err != nil {
					return false, fmt.Errorf("update state for trigger %s: %w", trigger.ID, err)
				}
			}
			e.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"trigger_id":     trigger.ID,
				"condition_id":   condition.ID,
				"condition_type": condition.Kind,
			}).Debug("Condition did not match")
			return false, nil
		}
	}

	if newState != nil {
		if err := e.states.Update(ctx, trigger.ID, newState); err != nil {
			return false, fmt.Errorf("update state for trigger %s: %w", trigger.ID, err)
		}
	}

	return true, nil
}

func (e *Engine) evaluateEMA(condition *models.TriggerCondition, event *models.Event, prior json.RawMessage) (bool, json.RawMessage, error) {
	evaluator, err := EMAFromConfig(condition.Config)
	if err != nil {
		return false, nil, fmt.Errorf("condition %d: %w", condition.ID, err)
	}

	var priorState *EMAState
	if len(prior) > 0 {
		var s EMAState
		if err := json.Unmarshal(prior, &s); err == nil {
			priorState = &s
		}
	}

	matched, newState, err := evaluator.Evaluate(event, condition, priorState)
	if err != nil {
		return false, nil, err
	}

	raw, err := json.Marshal(newState)
	if err != nil {
		return false, nil, fmt.Errorf("serialize EMA state: %w", err)
	}
	return matched, raw, nil
}

func (e *Engine) evaluateRateCounter(condition *models.TriggerCondition, event *models.Event, prior json.RawMessage) (bool, json.RawMessage, error) {
	evaluator, err := RateCounterFromConfig(condition.Config)
	if err != nil {
		return false, nil, fmt.Errorf("condition %d: %w", condition.ID, err)
	}

	var priorState *RateCounterState
	if len(prior) > 0 {
		var s RateCounterState
		if err := json.Unmarshal(prior, &s); err == nil {
			priorState = &s
		}
	}

	matched, newState, err := evaluator.Evaluate(event, condition, priorState)
	if err != nil {
		return false, nil, err
	}

	raw, err := json.Marshal(newState)
	if err != nil {
		return false, nil, fmt.Errorf("serialize rate counter state: %w", err)
	}
	return matched, raw, nil
}
