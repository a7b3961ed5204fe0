package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/triggerflow/internal/models"
)

// maxTimestamps bounds the persisted timestamp list.
const maxTimestamps = 10_000

// RateCounterState is the persisted sliding-window counter state.
type RateCounterState struct {
	WindowStart      time.Time `json:"window_start"`
	Count            uint32    `json:"count"`
	RecentTimestamps []int64   `json:"recent_timestamps"`
}

// rateCounterConfig is the condition config for rate_limit conditions.
type rateCounterConfig struct {
	TimeWindow     string `json:"time_window"`
	ResetOnTrigger bool   `json:"reset_on_trigger"`
}

// RateCounterEvaluator counts event timestamps inside a sliding window and
// compares the count against the condition threshold. Pure: no I/O.
type RateCounterEvaluator struct {
	timeWindow     time.Duration
	resetOnTrigger bool
}

// RateCounterFromConfig parses and validates the condition config.
func RateCounterFromConfig(raw json.RawMessage) (*RateCounterEvaluator, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("rate limit condition missing config")
	}
	var cfg rateCounterConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid rate counter config: %w", err)
	}

	window, err := parseWindow(cfg.TimeWindow)
	if err != nil {
		return nil, fmt.Errorf("invalid time_window format %q: %w", cfg.TimeWindow, err)
	}

	return &RateCounterEvaluator{
		timeWindow:     window,
		resetOnTrigger: cfg.ResetOnTrigger,
	}, nil
}

// Evaluate prunes expired timestamps, appends the event timestamp, truncates
// to the retention cap, and compares the count. When reset_on_trigger is set
// and the condition matched, the returned state is cleared.
func (e *RateCounterEvaluator) Evaluate(event *models.Event, condition *models.TriggerCondition, prior *RateCounterState) (bool, *RateCounterState, error) {
	now := time.Now().UTC()

	state := prior
	if state == nil {
		state = &RateCounterState{
			WindowStart:      now.Add(-e.timeWindow),
			RecentTimestamps: nil,
		}
	}

	cutoff := now.Add(-e.timeWindow).Unix()
	kept := state.RecentTimestamps[:0]
	for _, ts := range state.RecentTimestamps {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	state.RecentTimestamps = kept

	state.RecentTimestamps = append(state.RecentTimestamps, event.Timestamp)

	if len(state.RecentTimestamps) > maxTimestamps {
		state.RecentTimestamps = state.RecentTimestamps[len(state.RecentTimestamps)-maxTimestamps:]
	}

	state.Count = uint32(len(state.RecentTimestamps))
	state.WindowStart = now.Add(-e.timeWindow)

	threshold, err := strconv.ParseUint(condition.Value, 10, 32)
	if err != nil {
		return false, nil, fmt.Errorf("invalid threshold value: %s", condition.Value)
	}

	matched, err := compareInt(int64(state.Count), int64(threshold), condition.Operator)
	if err != nil {
		return false, nil, err
	}

	if matched && e.resetOnTrigger {
		state.Count = 0
		state.RecentTimestamps = nil
	}

	return matched, state, nil
}

// parseWindow parses duration strings of the form "10s", "5m", "1h", "7d".
func parseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration string is empty")
	}

	unit := s[len(s)-1:]
	num, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in duration: %s", s[:len(s)-1])
	}
	if num <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}

	switch unit {
	case "s":
		return time.Duration(num) * time.Second, nil
	case "m":
		return time.Duration(num) * time.Minute, nil
	case "h":
		return time.Duration(num) * time.Hour, nil
	case "d":
		return time.Duration(num) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid time unit: %s (expected s, m, h, d)", unit)
	}
}
