package notifier

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	svcerrors "github.com/R3E-Network/triggerflow/infrastructure/errors"
	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/infrastructure/metrics"
)

// errTaskTimeout is the sentinel returned when the per-event deadline
// expires; the collector matches it by identity.
var errTaskTimeout = svcerrors.Timeout("event processing")

// taskCollector tracks spawned processor tasks so completion, failure, and
// panic are all observed and counted. A panicking task increments its counter
// and is otherwise absorbed; the poller fallback re-delivers the event.
type taskCollector struct {
	logger  *logging.Logger
	metrics *metrics.Metrics

	wg        sync.WaitGroup
	spawned   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
	panicked  atomic.Uint64
}

func newTaskCollector(logger *logging.Logger, m *metrics.Metrics) *taskCollector {
	return &taskCollector{logger: logger, metrics: m}
}

func (c *taskCollector) spawn(eventID string, fn func() error) {
	c.wg.Add(1)
	total := c.spawned.Add(1)

	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.panicked.Add(1)
				c.metrics.TaskOutcomes.WithLabelValues("panic").Inc()
				c.logger.WithFields(map[string]interface{}{
					"event_id": eventID,
					"panic":    fmt.Sprintf("%v", r),
					"error_id": "TASK_PANIC",
				}).Error("Event processing task panicked")
			}
		}()

		err := fn()
		switch {
		case err == nil:
			c.succeeded.Add(1)
			c.metrics.TaskOutcomes.WithLabelValues("succeeded").Inc()
		case errors.Is(err, errTaskTimeout):
			c.timedOut.Add(1)
			c.metrics.TaskOutcomes.WithLabelValues("timeout").Inc()
			c.logger.WithFields(map[string]interface{}{
				"event_id": eventID,
				"error_id": "EVENT_PROCESSING_TIMEOUT",
			}).Error("Event processing timeout exceeded")
		default:
			c.failed.Add(1)
			c.metrics.TaskOutcomes.WithLabelValues("failed").Inc()
			c.logger.WithError(err).WithField("event_id", eventID).Error("Event processing task failed")
		}
	}()

	if total%100 == 0 {
		c.logger.WithFields(map[string]interface{}{
			"tasks_spawned":   total,
			"tasks_succeeded": c.succeeded.Load(),
			"tasks_failed":    c.failed.Load(),
			"tasks_timeout":   c.timedOut.Load(),
			"tasks_panicked":  c.panicked.Load(),
		}).Info("Event processing task metrics")
	}
}

func (c *taskCollector) wait() {
	c.wg.Wait()
}
