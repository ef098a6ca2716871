package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hookq/internal/config"
	"hookq/internal/handler"
	"hookq/internal/metrics"
	"hookq/internal/repository"
	"hookq/internal/service"
	"hookq/internal/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func main() {
	logger := newLogger()
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
	queue := service.NewQueueService(repo, m, log, cfg.MaxAttempts)
	gate := webhook.NewGate(cfg.WebhookSecrets, repo, queue, log)
	health := service.NewHealthEvaluator(repo, cfg.StallGraceWindow)

	webhookHandler := handler.NewWebhookHandler(gate, cfg.VerifyToken, m, log)
	jobHandler := handler.NewJobHandler(queue, log)
	opsHandler := handler.NewOpsHandler(queue, health, m, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/webhooks/{platform}", webhookHandler.VerifySubscription)
	r.Post("/webhooks/{platform}", webhookHandler.Receive)

	r.Post("/jobs/webhook", jobHandler.CreateWebhookJob)
	r.Post("/jobs/ai-response", jobHandler.CreateAIResponseJob)
	r.Get("/jobs/{id}", jobHandler.GetJob)

	r.Get("/stats", opsHandler.GetStats)
	r.Get("/health", opsHandler.GetHealth)
	r.Get("/metrics", opsHandler.GetMetrics)
	r.Get("/dlq", opsHandler.ListDLQ)
	r.Get("/dlq/{id}", opsHandler.GetDLQEntry)
	r.Post("/dlq/{id}/replay", opsHandler.ReplayDLQ)

	server := &http.Server{
		Addr:    cfg.APIAddr,
		Handler: r,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Infow("api server starting", "addr", cfg.APIAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server error", "error", err)
		}
	}()

	<-sigChan
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down server", "error", err)
	}
	log.Info("server stopped")
}

func newLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return logger
}
