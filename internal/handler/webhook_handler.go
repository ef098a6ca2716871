package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"hookq/internal/metrics"
	"hookq/internal/webhook"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxWebhookBody caps inbound delivery size.
const maxWebhookBody = 1 << 20

// WebhookHandler terminates the inbound webhook endpoint: subscription
// verification on GET, signed deliveries on POST.
type WebhookHandler struct {
	gate        *webhook.Gate
	verifyToken string
	metrics     *metrics.Metrics
	logger      *zap.SugaredLogger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(gate *webhook.Gate, verifyToken string, m *metrics.Metrics, logger *zap.SugaredLogger) *WebhookHandler {
	return &WebhookHandler{
		gate:        gate,
		verifyToken: verifyToken,
		metrics:     m,
		logger:      logger,
	}
}

// VerifySubscription handles GET /webhooks/{platform}: the provider's
// subscription challenge. The challenge is echoed back only when the
// verify token matches.
func (h *WebhookHandler) VerifySubscription(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || !webhook.VerifyToken(h.verifyToken, token) {
		h.logger.Warnw("subscription verification rejected",
			"platform", chi.URLParam(r, "platform"), "mode", mode)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// Receive handles POST /webhooks/{platform}. Senders only ever see 200,
// 401 or 400; a duplicate delivery is a 200 with no jobs.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		signature = r.Header.Get("X-Hub-Signature")
	}

	jobIDs, err := h.gate.Admit(r.Context(), body, signature, platform)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrSignature):
			http.Error(w, "invalid signature", http.StatusUnauthorized)
		case errors.Is(err, webhook.ErrMalformedPayload):
			http.Error(w, "malformed payload", http.StatusBadRequest)
		default:
			h.logger.Errorw("failed to admit delivery", "platform", platform, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	if len(jobIDs) == 0 {
		h.metrics.IncrementDuplicateEvents()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": true,
		"job_ids":  jobIDs,
	})
}
