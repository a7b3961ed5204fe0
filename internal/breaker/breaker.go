// Package breaker implements the per-trigger circuit breaker. Configuration
// and state live in JSONB columns on the trigger row; the breaker loads them
// at construction, runs the three-state machine in memory, and writes state
// back after every transition. A failed write is logged and counted but never
// masks the in-memory transition.
package breaker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/infrastructure/metrics"
	"github.com/R3E-Network/triggerflow/internal/store"
)

// State is one of the three circuit states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config is the per-trigger breaker tuning, stored on the trigger row.
type Config struct {
	FailureThreshold       uint32 `json:"failure_threshold"`
	RecoveryTimeoutSeconds uint64 `json:"recovery_timeout_seconds"`
	HalfOpenMaxCalls       uint32 `json:"half_open_max_calls"`
}

// DefaultConfig returns the default breaker tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:       10,
		RecoveryTimeoutSeconds: 3600,
		HalfOpenMaxCalls:       1,
	}
}

// Snapshot is the persisted breaker state.
type Snapshot struct {
	State           State      `json:"state"`
	FailureCount    uint32     `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
	HalfOpenCalls   uint32     `json:"half_open_calls"`
}

func defaultSnapshot() Snapshot {
	return Snapshot{State: StateClosed}
}

// Breaker is one trigger's circuit breaker instance. Instances are cheap and
// short-lived: the processor constructs one per trigger per event.
type Breaker struct {
	triggerID string
	config    Config
	triggers  *store.TriggerStore
	logger    *logging.Logger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	state Snapshot
}

// New loads the breaker for a trigger from its row. Missing or null columns
// fall back to defaults; a missing trigger is an error.
func New(ctx context.Context, triggerID string, triggers *store.TriggerStore, logger *logging.Logger, m *metrics.Metrics) (*Breaker, error) {
	rawConfig, rawState, err := triggers.LoadBreakerColumns(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("Invalid circuit breaker config, using defaults")
			cfg = DefaultConfig()
		}
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 10
	}
	if cfg.RecoveryTimeoutSeconds == 0 {
		cfg.RecoveryTimeoutSeconds = 3600
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	snap := defaultSnapshot()
	if len(rawState) > 0 {
		if err := json.Unmarshal(rawState, &snap); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("Invalid circuit breaker state, resetting to closed")
			snap = defaultSnapshot()
		}
	}

	return &Breaker{
		triggerID: triggerID,
		config:    cfg,
		triggers:  triggers,
		logger:    logger,
		metrics:   m,
		state:     snap,
	}, nil
}

// CallAllowed reports whether the trigger may be evaluated. When the circuit
// is open and the recovery timeout has elapsed, it transitions to half-open
// as a side effect.
func (b *Breaker) CallAllowed(ctx context.Context) bool {
	b.mu.Lock()

	switch b.state.State {
	case StateClosed:
		b.mu.Unlock()
		return true

	case StateOpen:
		if b.shouldAttemptReset() {
			b.state.State = StateHalfOpen
			b.state.HalfOpenCalls = 0
			snap := b.state
			b.mu.Unlock()

			b.metrics.BreakerTransitions.WithLabelValues(string(StateHalfOpen)).Inc()
			b.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"trigger_id": b.triggerID,
			}).Info("Circuit breaker transitioning to half-open (recovery timeout passed)")
			b.persist(ctx, snap)
			return true
		}
		b.mu.Unlock()
		b.metrics.BreakerRejections.Inc()
		return false

	case StateHalfOpen:
		if b.state.HalfOpenCalls < b.config.HalfOpenMaxCalls {
			b.state.HalfOpenCalls++
			b.mu.Unlock()
			return true
		}
		b.mu.Unlock()
		b.metrics.BreakerRejections.Inc()
		return false
	}

	b.mu.Unlock()
	return false
}

// RecordSuccess resets the failure count (closed) or closes the circuit
// (half-open).
func (b *Breaker) RecordSuccess(ctx context.Context) {
	b.mu.Lock()

	switch b.state.State {
	case StateClosed:
		if b.state.FailureCount == 0 {
			b.mu.Unlock()
			return
		}
		b.state.FailureCount = 0
		b.state.LastFailureTime = nil
		snap := b.state
		b.mu.Unlock()
		b.persist(ctx, snap)

	case StateHalfOpen:
		b.state = defaultSnapshot()
		snap := b.state
		b.mu.Unlock()

		b.metrics.BreakerTransitions.WithLabelValues(string(StateClosed)).Inc()
		b.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"trigger_id": b.triggerID,
		}).Info("Circuit breaker transitioning to closed (recovery successful)")
		b.persist(ctx, snap)

	default:
		b.mu.Unlock()
		b.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"trigger_id": b.triggerID,
		}).Warn("Received success in open state (unexpected)")
	}
}

// RecordFailure increments the failure count and opens the circuit when the
// threshold is crossed (closed) or immediately (half-open).
func (b *Breaker) RecordFailure(ctx context.Context) {
	b.mu.Lock()
	now := time.Now().UTC()

	switch b.state.State {
	case StateClosed:
		b.state.FailureCount++
		b.state.LastFailureTime = &now

		if b.state.FailureCount >= b.config.FailureThreshold {
			b.state.State = StateOpen
			b.state.OpenedAt = &now
			snap := b.state
			b.mu.Unlock()

			b.metrics.BreakerTransitions.WithLabelValues(string(StateOpen)).Inc()
			b.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"trigger_id":    b.triggerID,
				"failure_count": snap.FailureCount,
				"threshold":     b.config.FailureThreshold,
			}).Warn("Circuit breaker transitioning to open (failure threshold exceeded)")
			b.persist(ctx, snap)
			return
		}

		snap := b.state
		b.mu.Unlock()
		b.persist(ctx, snap)

	case StateHalfOpen:
		b.state.State = StateOpen
		b.state.OpenedAt = &now
		b.state.LastFailureTime = &now
		b.state.HalfOpenCalls = 0
		snap := b.state
		b.mu.Unlock()

		b.metrics.BreakerTransitions.WithLabelValues(string(StateOpen)).Inc()
		b.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"trigger_id": b.triggerID,
		}).Warn("Circuit breaker transitioning to open (recovery failed)")
		b.persist(ctx, snap)

	default:
		b.mu.Unlock()
	}
}

// CurrentState returns the in-memory circuit state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.State
}

// shouldAttemptReset is called with the lock held.
func (b *Breaker) shouldAttemptReset() bool {
	if b.state.OpenedAt == nil {
		// Open without a timestamp: allow the reset attempt rather than
		// locking the trigger out forever.
		b.logger.WithFields(map[string]interface{}{
			"trigger_id": b.triggerID,
		}).Warn("Open state missing opened_at timestamp")
		return true
	}
	elapsed := time.Since(*b.state.OpenedAt)
	return elapsed >= time.Duration(b.config.RecoveryTimeoutSeconds)*time.Second
}

func (b *Breaker) persist(ctx context.Context, snap Snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		b.metrics.BreakerPersistFailures.Inc()
		b.logger.WithContext(ctx).WithError(err).WithField("error_id", "CIRCUIT_BREAKER_PERSIST_FAILED").
			Error("Failed to serialize circuit breaker state")
		return
	}

	if err := b.triggers.SaveBreakerState(ctx, b.triggerID, raw); err != nil {
		b.metrics.BreakerPersistFailures.Inc()
		b.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"trigger_id": b.triggerID,
			"error_id":   "CIRCUIT_BREAKER_PERSIST_FAILED",
		}).Error("Failed to persist circuit breaker state (continuing with in-memory state)")
	}
}
