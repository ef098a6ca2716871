package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"hookq/internal/models"
	"hookq/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// JobHandler terminates the job submission API used by the business
// logic layer.
type JobHandler struct {
	queue  *service.QueueService
	logger *zap.SugaredLogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(queue *service.QueueService, logger *zap.SugaredLogger) *JobHandler {
	return &JobHandler{queue: queue, logger: logger}
}

type webhookJobRequest struct {
	EventID    string `json:"event_id"`
	Payload    string `json:"payload"`
	MerchantID string `json:"merchant_id"`
	Platform   string `json:"platform"`
	Priority   string `json:"priority"`
}

// CreateWebhookJob handles POST /jobs/webhook
func (h *JobHandler) CreateWebhookJob(w http.ResponseWriter, r *http.Request) {
	var req webhookJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.EventID == "" || req.Platform == "" {
		http.Error(w, "event_id and platform are required", http.StatusBadRequest)
		return
	}

	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID, err := h.queue.EnqueueWebhookJob(r.Context(),
		req.EventID, req.Payload, req.MerchantID, req.Platform, priority)
	if err != nil {
		h.logger.Errorw("failed to enqueue webhook job", "error", err)
		http.Error(w, "failed to enqueue job", http.StatusInternalServerError)
		return
	}

	writeJobID(w, jobID)
}

type aiResponseJobRequest struct {
	ConversationID string `json:"conversation_id"`
	MerchantID     string `json:"merchant_id"`
	CustomerID     string `json:"customer_id"`
	Message        string `json:"message"`
	Platform       string `json:"platform"`
	Priority       string `json:"priority"`
}

// CreateAIResponseJob handles POST /jobs/ai-response
func (h *JobHandler) CreateAIResponseJob(w http.ResponseWriter, r *http.Request) {
	var req aiResponseJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" || req.MerchantID == "" {
		http.Error(w, "conversation_id and merchant_id are required", http.StatusBadRequest)
		return
	}

	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID, err := h.queue.EnqueueAIResponseJob(r.Context(),
		req.ConversationID, req.MerchantID, req.CustomerID, req.Message, req.Platform, priority)
	if err != nil {
		h.logger.Errorw("failed to enqueue ai response job", "error", err)
		http.Error(w, "failed to enqueue job", http.StatusInternalServerError)
		return
	}

	writeJobID(w, jobID)
}

// GetJob handles GET /jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "job id is required", http.StatusBadRequest)
		return
	}

	job, err := h.queue.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.logger.Errorw("failed to get job", "job_id", id, "error", err)
		http.Error(w, "failed to retrieve job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func writeJobID(w http.ResponseWriter, jobID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"job_id": jobID})
}
