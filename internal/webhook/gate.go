package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"hookq/internal/models"

	"go.uber.org/zap"
)

// ErrMalformedPayload is returned when a verified delivery cannot be
// parsed. The payload is rejected with 400, never enqueued.
var ErrMalformedPayload = errors.New("malformed payload")

// Ledger is the idempotency ledger consulted before any job is enqueued.
// Delete unwinds an admission whose fan-out failed, so the provider's
// retry is not absorbed as a duplicate.
type Ledger interface {
	InsertWebhookEvent(ctx context.Context, platform, externalEventID string) (bool, error)
	DeleteWebhookEvent(ctx context.Context, platform, externalEventID string) error
}

// Enqueuer hands admitted sub-events to the priority job store.
type Enqueuer interface {
	EnqueueWebhookJob(ctx context.Context, eventID, payload, merchantID, platform string, priority models.Priority) (string, error)
}

// Gate verifies inbound deliveries, absorbs re-deliveries through the
// ledger and fans sub-events out into jobs. It runs on the request path
// and never executes business logic itself.
type Gate struct {
	secrets  map[string]string
	ledger   Ledger
	enqueuer Enqueuer
	logger   *zap.SugaredLogger
}

// NewGate creates a gate with per-platform shared secrets.
func NewGate(secrets map[string]string, ledger Ledger, enqueuer Enqueuer, logger *zap.SugaredLogger) *Gate {
	return &Gate{
		secrets:  secrets,
		ledger:   ledger,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// Provider delivery envelope (Meta webhook shape): one delivery may carry
// several entries, each with several messaging events.
type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string            `json:"id"`
	Time      int64             `json:"time"`
	Messaging []json.RawMessage `json:"messaging"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message struct {
		MID  string `json:"mid"`
		Text string `json:"text"`
	} `json:"message"`
}

// Admit verifies the signature over the raw bytes, deduplicates the
// delivery against the ledger and enqueues one job per sub-event. A
// re-delivery yields an empty job list and no error so the provider
// receives a fast 2xx and stops retrying.
func (g *Gate) Admit(ctx context.Context, rawBody []byte, signatureHeader, platform string) ([]string, error) {
	secret := g.secrets[platform]
	if err := VerifySignature(secret, rawBody, signatureHeader); err != nil {
		g.logger.Warnw("rejected webhook delivery", "platform", platform, "reason", "signature")
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(env.Entry) == 0 {
		return nil, fmt.Errorf("%w: delivery has no entries", ErrMalformedPayload)
	}

	// No delivery id on the wire, so the delivery identity is a content
	// hash of the raw body.
	sum := sha256.Sum256(rawBody)
	eventID := hex.EncodeToString(sum[:])

	inserted, err := g.ledger.InsertWebhookEvent(ctx, platform, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to record delivery: %w", err)
	}
	if !inserted {
		g.logger.Infow("duplicate delivery absorbed", "platform", platform, "event_id", eventID)
		return []string{}, nil
	}

	jobIDs := []string{}
	for _, ent := range env.Entry {
		for i, raw := range ent.Messaging {
			var msg messagingEvent
			if err := json.Unmarshal(raw, &msg); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
			}

			subEventID := msg.Message.MID
			if subEventID == "" {
				// Events without a message id get a content identity so
				// partial-batch retries still dedupe.
				itemSum := sha256.Sum256(raw)
				subEventID = fmt.Sprintf("h%d-%s", i, hex.EncodeToString(itemSum[:8]))
			}

			payload, err := json.Marshal(models.WebhookJobPayload{
				Platform:   platform,
				MerchantID: ent.ID,
				EntryID:    ent.ID,
				MessageID:  subEventID,
				SenderID:   msg.Sender.ID,
				Text:       msg.Message.Text,
				Raw:        raw,
			})
			if err != nil {
				g.unwind(ctx, platform, eventID)
				return nil, fmt.Errorf("failed to encode sub-event: %w", err)
			}

			jobID, err := g.enqueuer.EnqueueWebhookJob(ctx,
				fmt.Sprintf("%s:%s", ent.ID, subEventID),
				string(payload), ent.ID, platform, models.PriorityNormal)
			if err != nil {
				// Release the delivery identity so the provider's retry is
				// processed rather than absorbed. The per-sub-event job keys
				// make re-enqueueing the already-handled half harmless.
				g.unwind(ctx, platform, eventID)
				return nil, fmt.Errorf("failed to enqueue sub-event: %w", err)
			}
			jobIDs = append(jobIDs, jobID)
		}
	}

	g.logger.Infow("admitted webhook delivery",
		"platform", platform, "event_id", eventID, "jobs", len(jobIDs))
	return jobIDs, nil
}

func (g *Gate) unwind(ctx context.Context, platform, eventID string) {
	if err := g.ledger.DeleteWebhookEvent(ctx, platform, eventID); err != nil {
		g.logger.Errorw("failed to unwind delivery ledger entry",
			"platform", platform, "event_id", eventID, "error", err)
	}
}
