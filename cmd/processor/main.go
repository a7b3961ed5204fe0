// Command processor runs the trigger pipeline: it listens for event
// notifications, evaluates triggers, and dispatches matched actions through
// the worker pool.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/triggerflow/infrastructure/config"
	"github.com/R3E-Network/triggerflow/infrastructure/httputil"
	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/infrastructure/metrics"
	"github.com/R3E-Network/triggerflow/internal/actions"
	"github.com/R3E-Network/triggerflow/internal/engine"
	"github.com/R3E-Network/triggerflow/internal/models"
	"github.com/R3E-Network/triggerflow/internal/notifier"
	"github.com/R3E-Network/triggerflow/internal/ops"
	"github.com/R3E-Network/triggerflow/internal/processor"
	"github.com/R3E-Network/triggerflow/internal/queue"
	"github.com/R3E-Network/triggerflow/internal/ratelimit"
	"github.com/R3E-Network/triggerflow/internal/statestore"
	"github.com/R3E-Network/triggerflow/internal/store"
	"github.com/R3E-Network/triggerflow/internal/worker"
)

func main() {
	logger := logging.NewFromEnv("trigger-processor")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("trigger-processor")

	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	redisAddr, redisPassword, err := cfg.Redis.ParseURL()
	if err != nil {
		logger.WithError(err).Error("Invalid Redis configuration")
		os.Exit(1)
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		// The pipeline degrades without Redis (cache bypass, limiter
		// fallback) but the job queue needs it; surface loudly.
		logger.WithError(err).Warn("Redis unreachable at startup, queue operations will fail until it recovers")
	}

	// Stores
	eventStore := store.NewEventStore(db)
	triggerStore := store.NewTriggerStore(db)
	ledger := store.NewLedger(db)
	stateRows := store.NewStateStore(db)
	dlq := store.NewDLQ(db)
	resultLog := store.NewResultLog(db)

	states := statestore.New(stateRows, redisClient, cfg.Processor.StateCacheTTL, cfg.Processor.StateCacheEnabled, logger, m)
	eng := engine.New(states, logger)
	jobQueue := queue.NewRedisJobQueue(redisClient)

	proc := processor.New(ledger, eventStore, triggerStore, eng, jobQueue, logger, m)

	// Action dispatchers share one paced HTTP client.
	httpClient := httputil.NewRateLimitedClient(
		httputil.NewDispatcherClient("triggerflow-action-worker/1.0"), 50, 100)
	renderer := actions.NewRenderer(logger)
	dispatchers := []actions.Dispatcher{
		actions.NewChatDispatcher(httpClient, renderer, logger),
		actions.NewRestDispatcher(httpClient, renderer, logger),
		actions.NewToolDispatcher(httpClient, renderer, logger),
	}

	policy := worker.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Workers.MaxAttempts

	pool := worker.NewPool(jobQueue, dispatchers, resultLog, dlq, policy, cfg.Workers.PopTimeout,
		map[models.ActionType]int{
			models.ActionChat: cfg.Workers.ChatWorkers,
			models.ActionRest: cfg.Workers.RestWorkers,
			models.ActionTool: cfg.Workers.ToolWorkers,
		}, logger, m)
	pool.Start(ctx)

	limiter := ratelimit.New(redisClient, int64(cfg.RateLimit.WindowSeconds), cfg.RateLimit.FailOpen, logger, m)

	// Maintenance: state retention cleanup daily, fallback limiter sweep
	// every minute.
	maintenance := cron.New()
	_, _ = maintenance.AddFunc("@daily", func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		deleted, err := states.CleanupExpired(cleanupCtx, cfg.Processor.StateRetentionDays)
		if err != nil {
			logger.WithError(err).Error("Trigger state cleanup failed")
			return
		}
		if deleted > 0 {
			logger.WithFields(map[string]interface{}{
				"deleted":        deleted,
				"retention_days": cfg.Processor.StateRetentionDays,
			}).Warn("Cleaned up expired trigger state records")
		}
	})
	_, _ = maintenance.AddFunc("@every 1m", limiter.SweepFallback)
	maintenance.Start()
	defer maintenance.Stop()

	opsServer := ops.New(cfg.Ops, db, redisClient, limiter, cfg.RateLimit.OpsLimit, logger)
	go func() {
		if err := opsServer.Start(); err != nil {
			logger.WithError(err).Error("Ops server failed")
			stop()
		}
	}()

	poller := notifier.NewPoller(eventStore, proc, cfg.Processor.PollerInterval, cfg.Processor.PollerGrace, cfg.Processor.ProcessingTimeout, logger)
	go poller.Run(ctx)

	n := notifier.New(cfg.Database.DSN(), cfg.Processor.Channel, proc, cfg.Processor.MaxConcurrentEvents, cfg.Processor.ProcessingTimeout, logger, m)

	exitCode := 0
	if err := n.Run(ctx); err != nil {
		logger.WithError(err).Error("Notifier terminated with error")
		exitCode = 1
	}

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = opsServer.Shutdown(shutdownCtx)
	pool.Wait()

	logger.Info("Shutdown complete")
	os.Exit(exitCode)
}
