package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"hookq/internal/models"

	"go.uber.org/zap"
)

type mockAI struct {
	reply string
	err   error
}

func (m *mockAI) GenerateReply(ctx context.Context, merchantID, customerID, message string) (string, error) {
	return m.reply, m.err
}

type sentMessage struct {
	merchantID, recipientID, text string
}

type mockSender struct {
	sent []sentMessage
	err  error
}

func (m *mockSender) SendMessage(ctx context.Context, merchantID, recipientID, text string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{merchantID, recipientID, text})
	return nil
}

type mockNotifier struct {
	notified int
}

func (m *mockNotifier) Notify(ctx context.Context, merchantID, subject, body string) error {
	m.notified++
	return nil
}

func TestRegisterJobHandlers_CoversAllTypes(t *testing.T) {
	repo := newMockJobRepository()
	w := newTestWorkerService(repo)
	q := newTestQueueService(repo)

	err := RegisterJobHandlers(w, q, &mockAI{}, &mockSender{}, &mockNotifier{}, WorkerConfig{
		DefaultTimeout: time.Second,
	}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, jobType := range models.AllJobTypes {
		if _, ok := w.handlers[jobType]; !ok {
			t.Errorf("expected handler for %s", jobType)
		}
	}
}

func webhookJob(t *testing.T, payload models.WebhookJobPayload) *models.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	return &models.Job{
		ID:          "job-1",
		Type:        models.TypeProcessWebhook,
		Payload:     string(raw),
		Priority:    models.PriorityNormal,
		MaxAttempts: 3,
	}
}

func TestProcessWebhookHandler_EnqueuesAIResponse(t *testing.T) {
	repo := newMockJobRepository()
	q := newTestQueueService(repo)
	h := &processWebhookHandler{queue: q, logger: zap.NewNop().Sugar()}

	job := webhookJob(t, models.WebhookJobPayload{
		Platform:   "instagram",
		MerchantID: "merchant-1",
		EntryID:    "page-1",
		MessageID:  "mid-1",
		SenderID:   "user-1",
		Text:       "do you ship to Berlin?",
	})

	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(repo.jobs) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(repo.jobs))
	}
	for _, created := range repo.jobs {
		if created.Type != models.TypeGenerateAIResponse {
			t.Errorf("expected ai response job, got %s", created.Type)
		}
		var payload models.AIResponseJobPayload
		if err := json.Unmarshal([]byte(created.Payload), &payload); err != nil {
			t.Fatalf("payload must decode: %v", err)
		}
		if payload.ConversationID != "page-1:user-1" {
			t.Errorf("expected conversation page-1:user-1, got %s", payload.ConversationID)
		}
		if payload.Message != "do you ship to Berlin?" {
			t.Errorf("unexpected message %q", payload.Message)
		}
	}
}

func TestProcessWebhookHandler_SkipsNonTextEvents(t *testing.T) {
	repo := newMockJobRepository()
	q := newTestQueueService(repo)
	h := &processWebhookHandler{queue: q, logger: zap.NewNop().Sugar()}

	job := webhookJob(t, models.WebhookJobPayload{
		Platform:   "instagram",
		MerchantID: "merchant-1",
		EntryID:    "page-1",
		MessageID:  "mid-1",
		SenderID:   "user-1",
	})

	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("expected non-text event to be skipped cleanly, got %v", err)
	}
	if len(repo.jobs) != 0 {
		t.Errorf("expected no follow-up job, got %d", len(repo.jobs))
	}
}

func TestProcessWebhookHandler_MalformedPayloadIsPermanent(t *testing.T) {
	repo := newMockJobRepository()
	q := newTestQueueService(repo)
	h := &processWebhookHandler{queue: q, logger: zap.NewNop().Sugar()}

	job := &models.Job{ID: "job-1", Type: models.TypeProcessWebhook, Payload: "not json"}
	err := h.Handle(context.Background(), job)
	if !models.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestGenerateAIResponseHandler_QueuesDelivery(t *testing.T) {
	repo := newMockJobRepository()
	q := newTestQueueService(repo)
	h := &generateAIResponseHandler{
		queue:  q,
		ai:     &mockAI{reply: "Yes, we ship EU-wide."},
		logger: zap.NewNop().Sugar(),
	}

	payload, _ := json.Marshal(models.AIResponseJobPayload{
		ConversationID: "page-1:user-1",
		MerchantID:     "merchant-1",
		CustomerID:     "user-1",
		Message:        "do you ship to Berlin?",
		Platform:       "instagram",
	})
	job := &models.Job{
		ID:             "job-ai",
		Type:           models.TypeGenerateAIResponse,
		Payload:        string(payload),
		Priority:       models.PriorityHigh,
		IdempotencyKey: "ai:instagram:page-1:user-1",
	}

	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(repo.jobs) != 1 {
		t.Fatalf("expected 1 delivery job, got %d", len(repo.jobs))
	}
	for _, created := range repo.jobs {
		if created.Type != models.TypeDeliverMessage {
			t.Errorf("expected delivery job, got %s", created.Type)
		}
		if created.Priority != models.PriorityHigh {
			t.Errorf("expected priority to carry over, got %v", created.Priority)
		}
		if created.IdempotencyKey != "ai:instagram:page-1:user-1:deliver" {
			t.Errorf("unexpected idempotency key %q", created.IdempotencyKey)
		}
	}
}

func TestGenerateAIResponseHandler_ProviderErrorPropagates(t *testing.T) {
	repo := newMockJobRepository()
	q := newTestQueueService(repo)
	providerErr := &models.RetryableError{Err: errors.New("ai-provider returned status 503")}
	h := &generateAIResponseHandler{queue: q, ai: &mockAI{err: providerErr}, logger: zap.NewNop().Sugar()}

	payload, _ := json.Marshal(models.AIResponseJobPayload{MerchantID: "merchant-1", CustomerID: "user-1"})
	job := &models.Job{ID: "job-ai", Type: models.TypeGenerateAIResponse, Payload: string(payload)}

	err := h.Handle(context.Background(), job)
	var retryErr *models.RetryableError
	if !errors.As(err, &retryErr) {
		t.Errorf("expected the provider error to propagate unchanged, got %v", err)
	}
	if len(repo.jobs) != 0 {
		t.Error("expected no delivery job after a provider failure")
	}
}

func TestDeliverMessageHandler(t *testing.T) {
	sender := &mockSender{}
	h := &deliverMessageHandler{sender: sender}

	payload, _ := json.Marshal(models.DeliverMessagePayload{
		MerchantID:  "merchant-1",
		RecipientID: "user-1",
		Text:        "Yes, we ship EU-wide.",
		Platform:    "instagram",
	})
	job := &models.Job{ID: "job-d", Type: models.TypeDeliverMessage, Payload: string(payload)}

	if err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sender.sent))
	}
	if sender.sent[0].recipientID != "user-1" || sender.sent[0].text != "Yes, we ship EU-wide." {
		t.Errorf("unexpected delivery %+v", sender.sent[0])
	}
}
