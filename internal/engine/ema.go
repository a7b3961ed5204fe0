package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/R3E-Network/triggerflow/internal/models"
)

// EMAState is the persisted exponential-moving-average state.
type EMAState struct {
	EMA         float64   `json:"ema"`
	Count       uint64    `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// emaConfig is the condition config for ema_threshold.
type emaConfig struct {
	WindowSize uint32 `json:"window_size"`
}

// EMAEvaluator folds scores into an exponential moving average and compares
// the new average against the condition threshold. Pure: no I/O.
type EMAEvaluator struct {
	windowSize uint32
	alpha      float64
}

// NewEMAEvaluator derives the smoothing factor from the window size.
func NewEMAEvaluator(windowSize uint32) *EMAEvaluator {
	return &EMAEvaluator{
		windowSize: windowSize,
		alpha:      2.0 / (float64(windowSize) + 1.0),
	}
}

// EMAFromConfig parses and validates the condition config.
func EMAFromConfig(raw json.RawMessage) (*EMAEvaluator, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("EMA condition missing config")
	}
	var cfg emaConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid EMA config: %w", err)
	}
	if cfg.WindowSize == 0 {
		return nil, fmt.Errorf("window_size must be greater than 0")
	}
	return NewEMAEvaluator(cfg.WindowSize), nil
}

// Evaluate computes the new EMA from the event score and prior state. The
// first observed score seeds the average; window_size=1 fully replaces it.
func (e *EMAEvaluator) Evaluate(event *models.Event, condition *models.TriggerCondition, prior *EMAState) (bool, *EMAState, error) {
	if event.Score == nil {
		return false, nil, fmt.Errorf("event has no score field")
	}
	score := float64(*event.Score)

	var newEMA float64
	var newCount uint64
	if prior == nil {
		newEMA = score
		newCount = 1
	} else {
		newEMA = e.alpha*score + (1.0-e.alpha)*prior.EMA
		newCount = prior.Count + 1
	}

	newState := &EMAState{
		EMA:         newEMA,
		Count:       newCount,
		LastUpdated: time.Now().UTC(),
	}

	threshold, err := strconv.ParseFloat(condition.Value, 64)
	if err != nil {
		return false, nil, fmt.Errorf("invalid threshold value: %s", condition.Value)
	}

	matched, err := compareFloat(newEMA, threshold, condition.Operator)
	if err != nil {
		return false, nil, err
	}

	return matched, newState, nil
}
