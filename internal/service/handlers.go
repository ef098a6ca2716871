package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"hookq/internal/models"

	"go.uber.org/zap"
)

// The real AI generation, message delivery and notification logic live
// outside this core. Handlers invoke them through these contracts.

// AIResponder generates a reply for a customer message.
type AIResponder interface {
	GenerateReply(ctx context.Context, merchantID, customerID, message string) (string, error)
}

// MessageSender delivers a text message to a platform recipient.
type MessageSender interface {
	SendMessage(ctx context.Context, merchantID, recipientID, text string) error
}

// Notifier delivers an operational notification for a merchant.
type Notifier interface {
	Notify(ctx context.Context, merchantID, subject, body string) error
}

// RegisterJobHandlers installs the dispatch table for the closed job
// type set. Every models.JobType gets a handler here; the worker treats
// anything else as a permanent configuration error.
func RegisterJobHandlers(w *WorkerService, q *QueueService, ai AIResponder, sender MessageSender, notifier Notifier, cfg WorkerConfig, logger *zap.SugaredLogger) error {
	handlers := map[models.JobType]Handler{
		models.TypeProcessWebhook:     &processWebhookHandler{queue: q, logger: logger},
		models.TypeGenerateAIResponse: &generateAIResponseHandler{queue: q, ai: ai, logger: logger},
		models.TypeDeliverMessage:     &deliverMessageHandler{sender: sender},
		models.TypeSendNotification:   &sendNotificationHandler{notifier: notifier},
	}

	for _, t := range models.AllJobTypes {
		h, ok := handlers[t]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownJobType, t)
		}
		if err := w.Register(t, h, cfg.DefaultTimeout); err != nil {
			return err
		}
	}
	return nil
}

// decodePayload parses a job payload. A payload that does not decode
// will never decode, so the failure is permanent.
func decodePayload(job *models.Job, v any) error {
	if err := json.Unmarshal([]byte(job.Payload), v); err != nil {
		return models.Permanent(fmt.Errorf("malformed %s payload: %w", job.Type, err))
	}
	return nil
}

// processWebhookHandler turns an admitted sub-event into an AI response
// job for the conversation.
type processWebhookHandler struct {
	queue  *QueueService
	logger *zap.SugaredLogger
}

func (h *processWebhookHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload models.WebhookJobPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	if payload.SenderID == "" {
		return models.Permanent(errors.New("sub-event has no sender"))
	}

	if payload.Text == "" {
		// Non-text events (reactions, read receipts) carry nothing to
		// respond to.
		h.logger.Debugw("skipping non-text sub-event",
			"job_id", job.ID, "message_id", payload.MessageID)
		return nil
	}

	conversationID := fmt.Sprintf("%s:%s", payload.EntryID, payload.SenderID)
	_, err := h.queue.EnqueueAIResponseJob(ctx,
		conversationID, payload.MerchantID, payload.SenderID, payload.Text,
		payload.Platform, job.Priority)
	if err != nil {
		return fmt.Errorf("failed to enqueue ai response: %w", err)
	}
	return nil
}

// generateAIResponseHandler asks the AI collaborator for a reply and
// queues its delivery.
type generateAIResponseHandler struct {
	queue  *QueueService
	ai     AIResponder
	logger *zap.SugaredLogger
}

func (h *generateAIResponseHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload models.AIResponseJobPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}

	reply, err := h.ai.GenerateReply(ctx, payload.MerchantID, payload.CustomerID, payload.Message)
	if err != nil {
		return err
	}
	if reply == "" {
		h.logger.Infow("ai produced no reply", "job_id", job.ID, "conversation_id", payload.ConversationID)
		return nil
	}

	deliverPayload, err := marshalPayload(models.DeliverMessagePayload{
		MerchantID:  payload.MerchantID,
		RecipientID: payload.CustomerID,
		Text:        reply,
		Platform:    payload.Platform,
	})
	if err != nil {
		return models.Permanent(err)
	}

	_, err = h.queue.Enqueue(ctx, EnqueueParams{
		Type:           models.TypeDeliverMessage,
		Payload:        deliverPayload,
		Priority:       job.Priority,
		IdempotencyKey: job.IdempotencyKey + ":deliver",
		MerchantID:     payload.MerchantID,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}
	return nil
}

// deliverMessageHandler sends the reply through the messaging provider.
type deliverMessageHandler struct {
	sender MessageSender
}

func (h *deliverMessageHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload models.DeliverMessagePayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	return h.sender.SendMessage(ctx, payload.MerchantID, payload.RecipientID, payload.Text)
}

// sendNotificationHandler forwards operational notifications.
type sendNotificationHandler struct {
	notifier Notifier
}

func (h *sendNotificationHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload models.NotificationPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	return h.notifier.Notify(ctx, payload.MerchantID, payload.Subject, payload.Body)
}
