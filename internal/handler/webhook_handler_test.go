package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hookq/internal/metrics"
	"hookq/internal/models"
	"hookq/internal/webhook"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type stubLedger struct {
	seen map[string]bool
}

func (s *stubLedger) InsertWebhookEvent(ctx context.Context, platform, externalEventID string) (bool, error) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	key := platform + ":" + externalEventID
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *stubLedger) DeleteWebhookEvent(ctx context.Context, platform, externalEventID string) error {
	delete(s.seen, platform+":"+externalEventID)
	return nil
}

type stubEnqueuer struct {
	count int
}

func (s *stubEnqueuer) EnqueueWebhookJob(ctx context.Context, eventID, payload, merchantID, platform string, priority models.Priority) (string, error) {
	s.count++
	return "job-1", nil
}

func newTestHandler() (*WebhookHandler, *stubEnqueuer) {
	enqueuer := &stubEnqueuer{}
	gate := webhook.NewGate(map[string]string{"instagram": "secret"}, &stubLedger{}, enqueuer, zap.NewNop().Sugar())
	h := NewWebhookHandler(gate, "verify-me", metrics.NewMetrics(), zap.NewNop().Sugar())
	return h, enqueuer
}

func newRouter(h *WebhookHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/webhooks/{platform}", h.VerifySubscription)
	r.Post("/webhooks/{platform}", h.Receive)
	return r
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postDelivery(t *testing.T, router http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/instagram", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

var testDelivery = []byte(`{
	"object": "instagram",
	"entry": [{
		"id": "page-1",
		"messaging": [{"sender": {"id": "user-1"}, "message": {"mid": "mid-1", "text": "hi"}}]
	}]
}`)

func TestReceive_AcceptsSignedDelivery(t *testing.T) {
	h, enqueuer := newTestHandler()
	router := newRouter(h)

	rec := postDelivery(t, router, testDelivery, signBody("secret", testDelivery))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Accepted bool     `json:"accepted"`
		JobIDs   []string `json:"job_ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response must be JSON: %v", err)
	}
	if !resp.Accepted || len(resp.JobIDs) != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if enqueuer.count != 1 {
		t.Errorf("expected 1 enqueued job, got %d", enqueuer.count)
	}
}

func TestReceive_RejectsBadSignature(t *testing.T) {
	h, enqueuer := newTestHandler()
	router := newRouter(h)

	rec := postDelivery(t, router, testDelivery, "sha256=deadbeef")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = postDelivery(t, router, testDelivery, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rec.Code)
	}
	if enqueuer.count != 0 {
		t.Errorf("rejected deliveries must not enqueue, got %d", enqueuer.count)
	}
}

func TestReceive_RejectsMalformedPayload(t *testing.T) {
	h, _ := newTestHandler()
	router := newRouter(h)

	body := []byte(`not json`)
	rec := postDelivery(t, router, body, signBody("secret", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReceive_DuplicateDeliveryStillSucceeds(t *testing.T) {
	h, enqueuer := newTestHandler()
	router := newRouter(h)
	sig := signBody("secret", testDelivery)

	if rec := postDelivery(t, router, testDelivery, sig); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec := postDelivery(t, router, testDelivery, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate must still be 200, got %d", rec.Code)
	}

	var resp struct {
		JobIDs []string `json:"job_ids"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.JobIDs) != 0 {
		t.Errorf("expected no jobs on re-delivery, got %v", resp.JobIDs)
	}
	if enqueuer.count != 1 {
		t.Errorf("expected enqueue count to stay at 1, got %d", enqueuer.count)
	}
}

func TestVerifySubscription(t *testing.T) {
	h, _ := newTestHandler()
	router := newRouter(h)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Errorf("expected challenge echo, got %q", rec.Body.String())
	}
}

func TestVerifySubscription_WrongToken(t *testing.T) {
	h, _ := newTestHandler()
	router := newRouter(h)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
