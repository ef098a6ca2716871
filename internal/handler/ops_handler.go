package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"hookq/internal/metrics"
	"hookq/internal/models"
	"hookq/internal/repository"
	"hookq/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// OpsHandler terminates the operational API: queue statistics, health
// verdict, DLQ listing and replay, process counters.
type OpsHandler struct {
	queue   *service.QueueService
	health  *service.HealthEvaluator
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

// NewOpsHandler creates a new operational handler
func NewOpsHandler(queue *service.QueueService, health *service.HealthEvaluator, m *metrics.Metrics, logger *zap.SugaredLogger) *OpsHandler {
	return &OpsHandler{queue: queue, health: health, metrics: m, logger: logger}
}

// GetStats handles GET /stats
func (h *OpsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetQueueStats(r.Context())
	if err != nil {
		h.logger.Errorw("failed to get queue stats", "error", err)
		http.Error(w, "failed to retrieve stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetHealth handles GET /health. Unhealthy verdicts answer 503 so load
// balancers and probes act on them.
func (h *OpsHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.health.Evaluate(r.Context())
	if err != nil {
		h.logger.Errorw("health evaluation failed", "error", err)
		http.Error(w, "health evaluation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !report.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}

// ListDLQ handles GET /dlq?limit=
func (h *OpsHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.queue.ListDLQEntries(r.Context(), limit)
	if err != nil {
		h.logger.Errorw("failed to list dead letter entries", "error", err)
		http.Error(w, "failed to retrieve dead letter queue", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.DLQEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetDLQEntry handles GET /dlq/{id}
func (h *OpsHandler) GetDLQEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.queue.GetDLQEntry(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrDLQEntryNotFound) {
			http.Error(w, "dead letter entry not found", http.StatusNotFound)
			return
		}
		h.logger.Errorw("failed to get dead letter entry", "entry_id", id, "error", err)
		http.Error(w, "failed to retrieve entry", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// ReplayDLQ handles POST /dlq/{id}/replay
func (h *OpsHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "entry id is required", http.StatusBadRequest)
		return
	}

	jobID, err := h.queue.ReplayDLQEntry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDLQEntryNotFound):
			http.Error(w, "dead letter entry not found", http.StatusNotFound)
		case errors.Is(err, repository.ErrAlreadyReplayed):
			http.Error(w, "entry already replayed", http.StatusConflict)
		default:
			h.logger.Errorw("failed to replay dead letter entry", "entry_id", id, "error", err)
			http.Error(w, "failed to replay entry", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"job_id": jobID})
}

// GetMetrics handles GET /metrics
func (h *OpsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.metrics.GetSnapshot())
}
