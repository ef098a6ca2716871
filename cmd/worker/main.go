package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hookq/internal/breaker"
	"hookq/internal/client"
	"hookq/internal/config"
	"hookq/internal/limiter"
	"hookq/internal/metrics"
	"hookq/internal/repository"
	"hookq/internal/service"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load configuration", "error", err)
	}

	repo, err := repository.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		log.Fatalw("failed to initialize repository", "error", err)
	}
	defer repo.Close()

	m := metrics.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := breaker.NewRegistry(cfg.BreakerThreshold, cfg.BreakerResetTimeout, repo, log)
	if snaps, err := repo.ListCircuitStates(ctx); err != nil {
		log.Warnw("failed to restore circuit states", "error", err)
	} else {
		registry.Restore(snaps)
	}

	wrapper := limiter.NewWrapper(registry, cfg.UsageCooldown, log)

	aiClient := client.NewAIClient(cfg.AIServiceURL, wrapper)
	graphClient := client.NewGraphClient(cfg.GraphAPIBaseURL, cfg.GraphAPIToken, wrapper)
	notifyClient := client.NewNotifyClient(cfg.NotifyURL, wrapper, log)

	queue := service.NewQueueService(repo, m, log, cfg.MaxAttempts)

	workerCfg := service.WorkerConfig{
		WorkerCount:    cfg.WorkerCount,
		LeaseDuration:  cfg.LeaseDuration,
		BackoffBase:    cfg.BackoffBase,
		BackoffCap:     cfg.BackoffCap,
		DefaultTimeout: cfg.HandlerTimeout,
	}
	workers := service.NewWorkerService(repo, m, log, workerCfg)
	if err := service.RegisterJobHandlers(workers, queue, aiClient, graphClient, notifyClient, workerCfg, log); err != nil {
		log.Fatalw("failed to register job handlers", "error", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutting down workers")
		cancel()
	}()

	// Periodic throughput log so operators can watch the pool breathe.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Infow("worker pool throughput",
					"rate_per_sec", m.RatePerSecond(),
					"active_workers", m.ActiveWorkers(),
					"last_dispatch", m.LastDispatchAt())
			}
		}
	}()

	if err := workers.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalw("worker pool error", "error", err)
	}
	log.Info("workers stopped")
}
