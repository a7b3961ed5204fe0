// Package processor runs the end-to-end per-event pipeline: idempotency
// check, batch trigger load, circuit-breaker-guarded condition evaluation,
// and action enqueueing, bracketed by the ledger mark.
package processor

import (
	"context"
	"os"
	"time"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/infrastructure/metrics"
	"github.com/R3E-Network/triggerflow/internal/breaker"
	"github.com/R3E-Network/triggerflow/internal/engine"
	"github.com/R3E-Network/triggerflow/internal/models"
	"github.com/R3E-Network/triggerflow/internal/queue"
	"github.com/R3E-Network/triggerflow/internal/store"
)

// maxTriggersPerEvent caps how many triggers a single event may fan out to.
const maxTriggersPerEvent = 100

// Processor evaluates one event against all matching triggers.
type Processor struct {
	ledger   *store.Ledger
	events   *store.EventStore
	triggers *store.TriggerStore
	engine   *engine.Engine
	queue    queue.JobQueue
	logger   *logging.Logger
	metrics  *metrics.Metrics
	instance string
}

// New creates a processor. The instance name defaults to the hostname.
func New(
	ledger *store.Ledger,
	events *store.EventStore,
	triggers *store.TriggerStore,
	eng *engine.Engine,
	q queue.JobQueue,
	logger *logging.Logger,
	m *metrics.Metrics,
) *Processor {
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = "unknown"
	}
	return &Processor{
		ledger:   ledger,
		events:   events,
		triggers: triggers,
		engine:   eng,
		queue:    q,
		logger:   logger,
		metrics:  m,
		instance: instance,
	}
}

// ProcessEvent runs the full pipeline for one event id. Calling it again with
// the same id is a no-op: the ledger short-circuits replays. The ledger
// check, the event fetch, the batch trigger and relation loads, the event
// data marshal and the final ledger mark can fail the task; failures while
// evaluating a trigger or enqueuing its actions are contained to that
// trigger or action.
func (p *Processor) ProcessEvent(ctx context.Context, eventID string) error {
	start := time.Now()
	ctx = logging.WithEventID(ctx, eventID)

	processed, err := p.ledger.IsProcessed(ctx, eventID)
	if err != nil {
		return err
	}
	if processed {
		p.metrics.EventsProcessed.WithLabelValues("replayed").Inc()
		p.logger.WithContext(ctx).Debug("Event already processed, skipping (idempotency check)")
		return nil
	}

	event, err := p.events.GetEvent(ctx, eventID)
	if err != nil {
		p.metrics.EventsProcessed.WithLabelValues("failed").Inc()
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"chain_id":   event.ChainID,
		"registry":   event.Registry,
		"event_type": event.EventType,
	}).Info("Processing event")

	triggers, err := p.triggers.FetchMatching(ctx, event.ChainID, event.Registry)
	if err != nil {
		p.metrics.EventsProcessed.WithLabelValues("failed").Inc()
		return err
	}

	if len(triggers) == 0 {
		p.logger.WithContext(ctx).Debug("No enabled triggers for event")
		return p.mark(ctx, eventID, 0, 0, start)
	}

	if len(triggers) > maxTriggersPerEvent {
		p.metrics.TriggerCapHits.Inc()
		p.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"trigger_count": len(triggers),
			"max_allowed":   maxTriggersPerEvent,
			"error_id":      "TRIGGER_COUNT_EXCEEDED",
		}).Warn("Event matched too many triggers, truncating")
		triggers = triggers[:maxTriggersPerEvent]
	}

	triggerIDs := make([]string, len(triggers))
	for i, t := range triggers {
		triggerIDs[i] = t.ID
	}

	conditionsByTrigger, actionsByTrigger, err := p.triggers.FetchRelations(ctx, triggerIDs)
	if err != nil {
		p.metrics.EventsProcessed.WithLabelValues("failed").Inc()
		return err
	}

	eventData, err := event.TemplateDataJSON()
	if err != nil {
		p.metrics.EventsProcessed.WithLabelValues("failed").Inc()
		return err
	}

	matched := 0
	enqueued := 0

	for _, trigger := range triggers {
		enqueuedForTrigger, didMatch := p.evaluateTrigger(ctx, trigger, conditionsByTrigger[trigger.ID], actionsByTrigger[trigger.ID], event, eventData)
		if didMatch {
			matched++
		}
		enqueued += enqueuedForTrigger
	}

	if err := p.mark(ctx, eventID, matched, enqueued, start); err != nil {
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"triggers_evaluated": len(triggers),
		"triggers_matched":   matched,
		"actions_enqueued":   enqueued,
		"duration_ms":        time.Since(start).Milliseconds(),
	}).Info("Event processing complete")

	return nil
}

// evaluateTrigger runs one trigger through its breaker and the condition
// engine, enqueueing a job per action on a match. All failures are contained:
// a broken trigger or action never stops its siblings.
func (p *Processor) evaluateTrigger(
	ctx context.Context,
	trigger *models.Trigger,
	conditions []*models.TriggerCondition,
	triggerActions []*models.TriggerAction,
	event *models.Event,
	eventData []byte,
) (enqueued int, didMatch bool) {
	ctx = logging.WithTriggerID(ctx, trigger.ID)

	cb, err := breaker.New(ctx, trigger.ID, p.triggers, p.logger, p.metrics)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to create circuit breaker, skipping trigger")
		return 0, false
	}

	if !cb.CallAllowed(ctx) {
		p.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"trigger_name": trigger.Name,
			"state":        cb.CurrentState(),
		}).Info("Circuit breaker open - skipping trigger")
		return 0, false
	}

	matchedResult, err := p.engine.Evaluate(ctx, trigger, conditions, event)
	if err != nil {
		cb.RecordFailure(ctx)
		p.logger.WithContext(ctx).WithError(err).WithField("trigger_name", trigger.Name).
			Error("Trigger evaluation failed")
		return 0, false
	}

	cb.RecordSuccess(ctx)

	if !matchedResult {
		p.logger.WithContext(ctx).WithField("trigger_name", trigger.Name).Debug("Trigger did not match")
		return 0, false
	}

	p.metrics.TriggersMatched.Inc()
	p.logger.WithContext(ctx).WithField("trigger_name", trigger.Name).Info("Trigger matched")

	failedActions := 0
	for _, action := range triggerActions {
		kind, err := models.ParseActionType(action.Kind)
		if err != nil {
			failedActions++
			p.metrics.ActionParseFailures.Inc()
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
				"action_id": action.ID,
				"error_id":  "ACTION_TYPE_PARSE_FAILED",
			}).Error("Failed to parse action type, skipping this action")
			continue
		}

		job := models.NewActionJob(trigger.ID, event.ID, kind, action.Priority, action.Config, eventData)

		if err := p.queue.Enqueue(ctx, job); err != nil {
			failedActions++
			p.metrics.ActionEnqueueFailures.Inc()
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
				"job_id":      job.ID,
				"action_type": kind,
				"error_id":    "ACTION_ENQUEUE_FAILED",
			}).Error("Failed to enqueue action job, continuing with other actions")
			continue
		}

		enqueued++
		p.metrics.ActionsEnqueued.WithLabelValues(string(kind)).Inc()
		p.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"job_id":      job.ID,
			"action_type": kind,
		}).Debug("Enqueued action job")
	}

	if failedActions > 0 {
		p.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"total_actions":  len(triggerActions),
			"failed_actions": failedActions,
		}).Warn("Some actions failed to enqueue for this trigger")
	}

	return enqueued, true
}

func (p *Processor) mark(ctx context.Context, eventID string, matched, enqueued int, start time.Time) error {
	duration := time.Since(start)
	if err := p.ledger.MarkProcessed(ctx, eventID, p.instance, int(duration.Milliseconds()), matched, enqueued); err != nil {
		p.metrics.EventsProcessed.WithLabelValues("failed").Inc()
		return err
	}
	p.metrics.EventsProcessed.WithLabelValues("processed").Inc()
	p.metrics.EventDuration.Observe(duration.Seconds())
	return nil
}
