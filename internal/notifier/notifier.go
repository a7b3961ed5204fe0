// Package notifier subscribes to the ingestion channel and fans each event
// notification out to a bounded, tracked processor task. A companion poller
// sweeps up events whose notifications were lost; the idempotency ledger
// makes the overlap safe.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/infrastructure/metrics"
	"github.com/R3E-Network/triggerflow/internal/models"
	"github.com/R3E-Network/triggerflow/internal/processor"
)

const (
	maxConsecutiveErrors = 10
	keepaliveInterval    = 90 * time.Second
)

// Notifier is the LISTEN/NOTIFY consumer loop.
type Notifier struct {
	dsn         string
	channel     string
	processor   *processor.Processor
	maxInFlight int
	taskTimeout time.Duration
	logger      *logging.Logger
	metrics     *metrics.Metrics

	permits chan struct{}
	tasks   *taskCollector
	errCh   chan error
}

// New creates a notifier for the given channel.
func New(dsn, channel string, proc *processor.Processor, maxInFlight int, taskTimeout time.Duration, logger *logging.Logger, m *metrics.Metrics) *Notifier {
	if maxInFlight <= 0 {
		maxInFlight = 100
	}
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	return &Notifier{
		dsn:         dsn,
		channel:     channel,
		processor:   proc,
		maxInFlight: maxInFlight,
		taskTimeout: taskTimeout,
		logger:      logger,
		metrics:     m,
		permits:     make(chan struct{}, maxInFlight),
		tasks:       newTaskCollector(logger, m),
		errCh:       make(chan error, 16),
	}
}

// Run listens until ctx is canceled or an unrecoverable error occurs.
// Transient connection errors back off exponentially; after
// maxConsecutiveErrors the notifier exits so the supervisor can restart the
// process. Fatal errors (auth, missing schema) exit immediately.
func (n *Notifier) Run(ctx context.Context) error {
	listener := pq.NewListener(n.dsn, time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		if err == nil {
			return
		}
		select {
		case n.errCh <- err:
		default:
		}
	})
	defer listener.Close()

	if err := listener.Listen(n.channel); err != nil {
		return fmt.Errorf("listen on channel %q: %w", n.channel, err)
	}

	n.logger.WithFields(map[string]interface{}{
		"channel": n.channel,
	}).Info("Listening for event notifications")

	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Notifier shutting down, waiting for in-flight tasks")
			n.tasks.wait()
			return nil

		case notification := <-listener.Notify:
			if notification == nil {
				// Connection was re-established; notifications may have been
				// lost in between. The poller fallback covers the gap.
				n.logger.Warn("Listener connection reset, poller will cover missed events")
				continue
			}
			consecutiveErrors = 0
			n.dispatch(ctx, notification.Extra)

		case err := <-n.errCh:
			consecutiveErrors++

			if isFatalListenerError(err) {
				n.metrics.ListenerErrors.WithLabelValues("fatal").Inc()
				n.logger.WithError(err).WithField("error_id", "LISTENER_FATAL_ERROR").
					Error("Fatal listener error, exiting for restart")
				return fmt.Errorf("fatal listener error: %w", err)
			}

			n.metrics.ListenerErrors.WithLabelValues("transient").Inc()
			backoff := backoffFor(consecutiveErrors)
			n.logger.WithError(err).WithFields(map[string]interface{}{
				"consecutive_errors": consecutiveErrors,
				"backoff_secs":       backoff.Seconds(),
				"error_id":           "LISTENER_TRANSIENT_ERROR",
			}).Error("Transient listener error, backing off")

			if consecutiveErrors >= maxConsecutiveErrors {
				n.logger.WithFields(map[string]interface{}{
					"consecutive_errors": consecutiveErrors,
					"error_id":           "LISTENER_MAX_ERRORS_EXCEEDED",
				}).Error("Listener exceeded maximum consecutive errors, exiting for restart")
				return fmt.Errorf("listener exceeded %d consecutive errors", maxConsecutiveErrors)
			}

			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}

		case <-time.After(keepaliveInterval):
			if err := listener.Ping(); err != nil {
				select {
				case n.errCh <- err:
				default:
				}
			}
		}
	}
}

// dispatch acquires a permit and spawns the tracked processor task. The only
// thing that can hold up the notify loop is permit acquisition, which bounds
// in-flight work.
func (n *Notifier) dispatch(ctx context.Context, payload string) {
	eventID := parsePayload(n.logger, payload)
	if eventID == "" {
		return
	}

	select {
	case n.permits <- struct{}{}:
	case <-ctx.Done():
		return
	}

	n.metrics.TasksInFlight.Inc()
	n.tasks.spawn(eventID, func() error {
		defer func() {
			<-n.permits
			n.metrics.TasksInFlight.Dec()
		}()

		taskCtx, cancel := context.WithTimeout(ctx, n.taskTimeout)
		defer cancel()

		err := n.processor.ProcessEvent(taskCtx, eventID)
		if taskCtx.Err() == context.DeadlineExceeded {
			return errTaskTimeout
		}
		return err
	})
}

// parsePayload accepts either the JSON notification envelope or a raw event
// id. A malformed envelope downgrades to the raw-id interpretation rather
// than dropping the event.
func parsePayload(logger *logging.Logger, payload string) string {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return ""
	}

	var envelope models.EventNotification
	if err := json.Unmarshal([]byte(payload), &envelope); err == nil && envelope.EventID != "" {
		return envelope.EventID
	}

	logger.WithFields(map[string]interface{}{
		"payload": truncatePayload(payload),
	}).Warn("Failed to parse event notification envelope, treating payload as raw event id")
	return payload
}

func truncatePayload(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func backoffFor(consecutive int) time.Duration {
	if consecutive > 6 {
		return 60 * time.Second
	}
	backoff := time.Duration(1<<uint(consecutive)) * time.Second
	if backoff > 60*time.Second {
		backoff = 60 * time.Second
	}
	return backoff
}

func isFatalListenerError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "permission denied") ||
		(strings.Contains(msg, "does not exist") &&
			(strings.Contains(msg, "database") || strings.Contains(msg, "relation")))
}
