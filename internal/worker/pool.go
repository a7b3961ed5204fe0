package worker

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/infrastructure/metrics"
	"github.com/R3E-Network/triggerflow/internal/actions"
	"github.com/R3E-Network/triggerflow/internal/models"
	"github.com/R3E-Network/triggerflow/internal/queue"
	"github.com/R3E-Network/triggerflow/internal/store"
)

// Pool runs a configurable number of worker loops per dispatch kind. Each
// loop pops jobs, renders and dispatches them under the retry policy, logs
// the terminal result, and dead-letters permanent failures.
type Pool struct {
	queue       queue.JobQueue
	dispatchers map[models.ActionType]actions.Dispatcher
	results     *store.ResultLog
	dlq         *store.DLQ
	policy      RetryPolicy
	popTimeout  time.Duration
	counts      map[models.ActionType]int
	logger      *logging.Logger
	metrics     *metrics.Metrics

	wg sync.WaitGroup
}

// NewPool assembles a worker pool. counts maps each kind to its worker count;
// kinds without a dispatcher are skipped.
func NewPool(
	q queue.JobQueue,
	dispatchers []actions.Dispatcher,
	results *store.ResultLog,
	dlq *store.DLQ,
	policy RetryPolicy,
	popTimeout time.Duration,
	counts map[models.ActionType]int,
	logger *logging.Logger,
	m *metrics.Metrics,
) *Pool {
	byKind := make(map[models.ActionType]actions.Dispatcher, len(dispatchers))
	for _, d := range dispatchers {
		byKind[d.Kind()] = d
	}
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	return &Pool{
		queue:       q,
		dispatchers: byKind,
		results:     results,
		dlq:         dlq,
		policy:      policy,
		popTimeout:  popTimeout,
		counts:      counts,
		logger:      logger,
		metrics:     m,
	}
}

// Start launches the worker loops. They run until ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	for kind, dispatcher := range p.dispatchers {
		count := p.counts[kind]
		if count <= 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			p.wg.Add(1)
			go p.run(ctx, kind, dispatcher, i)
		}
		p.logger.WithFields(map[string]interface{}{
			"action_type": kind,
			"workers":     count,
		}).Info("Started workers")
	}
}

// Wait blocks until every worker loop has drained after cancellation.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, kind models.ActionType, dispatcher actions.Dispatcher, index int) {
	defer p.wg.Done()

	log := p.logger.WithFields(map[string]interface{}{
		"action_type": kind,
		"worker":      index,
	})

	for {
		select {
		case <-ctx.Done():
			log.Info("Worker shutting down")
			return
		default:
		}

		job, err := p.queue.Pop(ctx, kind, p.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Worker shutting down")
				return
			}
			log.WithError(err).Error("Failed to pop job from queue")
			// Queue trouble: back off briefly instead of spinning.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}

		p.process(ctx, dispatcher, job)
	}
}

// process drives one job to its terminal outcome. Job-level failures never
// escape: they end in the DLQ and the result log.
func (p *Pool) process(ctx context.Context, dispatcher actions.Dispatcher, job *models.ActionJob) {
	start := time.Now()
	jobCtx := logging.WithEventID(logging.WithTriggerID(ctx, job.TriggerID), job.EventID)

	p.logger.WithContext(jobCtx).WithFields(map[string]interface{}{
		"job_id":      job.ID,
		"action_type": job.ActionType,
	}).Info("Processing action job")

	attempts, err := ExecuteWithRetry(jobCtx, p.policy, func() error {
		_, execErr := dispatcher.Execute(jobCtx, job.Config, job.EventData)
		return execErr
	})

	duration := time.Since(start)
	kindLabel := string(job.ActionType)
	p.metrics.JobDuration.WithLabelValues(kindLabel).Observe(duration.Seconds())

	if err == nil {
		p.metrics.JobsCompleted.WithLabelValues(kindLabel, "success").Inc()
		p.logResult(jobCtx, models.SuccessResult(job, duration, attempts))
		p.logger.LogActionResult(jobCtx, job.ID, kindLabel, models.ResultSuccess, duration, nil)
		return
	}

	p.metrics.JobsCompleted.WithLabelValues(kindLabel, "failed").Inc()

	if dlqErr := p.dlq.Push(jobCtx, job, err.Error(), attempts); dlqErr != nil {
		p.logger.WithContext(jobCtx).WithError(dlqErr).WithField("job_id", job.ID).
			Error("Failed to push job to DLQ")
	} else {
		p.metrics.DLQDepth.Inc()
	}

	p.logResult(jobCtx, models.FailureResult(job, duration, attempts, err.Error()))
	p.logger.LogActionResult(jobCtx, job.ID, kindLabel, models.ResultFailed, duration, err)
}

func (p *Pool) logResult(ctx context.Context, result *models.ActionResult) {
	if err := p.results.Log(ctx, result); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("job_id", result.JobID).
			Error("Failed to write action result")
	}
}
