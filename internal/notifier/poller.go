package notifier

import (
	"context"
	"time"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/internal/processor"
	"github.com/R3E-Network/triggerflow/internal/store"
)

const pollerBatchSize = 100

// Poller periodically picks up events that never received a ledger row:
// notifications lost to connection resets, listener restarts, or task
// crashes. Re-processing is safe because the processor short-circuits on the
// ledger.
type Poller struct {
	events    *store.EventStore
	processor *processor.Processor
	interval  time.Duration
	grace     time.Duration
	timeout   time.Duration
	logger    *logging.Logger
}

// NewPoller creates a poller. Grace keeps it from racing the live listener on
// fresh events.
func NewPoller(events *store.EventStore, proc *processor.Processor, interval, grace, taskTimeout time.Duration, logger *logging.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	return &Poller{
		events:    events,
		processor: proc,
		interval:  interval,
		grace:     grace,
		timeout:   taskTimeout,
		logger:    logger,
	}
}

// Run sweeps until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller shutting down")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	ids, err := p.events.ListUnprocessed(ctx, p.grace, pollerBatchSize)
	if err != nil {
		p.logger.WithError(err).Error("Poller failed to list unprocessed events")
		return
	}
	if len(ids) == 0 {
		return
	}

	p.logger.WithFields(map[string]interface{}{
		"count": len(ids),
	}).Warn("Poller found unprocessed events, re-delivering")

	for _, eventID := range ids {
		if ctx.Err() != nil {
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, p.timeout)
		if err := p.processor.ProcessEvent(taskCtx, eventID); err != nil {
			p.logger.WithError(err).WithField("event_id", eventID).
				Error("Poller failed to process event")
		}
		cancel()
	}
}
