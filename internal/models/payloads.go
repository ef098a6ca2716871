package models

import "encoding/json"

// WebhookJobPayload is the payload of a TypeProcessWebhook job: one
// logical sub-event fanned out from an inbound delivery.
type WebhookJobPayload struct {
	Platform   string          `json:"platform"`
	MerchantID string          `json:"merchant_id"`
	EntryID    string          `json:"entry_id"`
	MessageID  string          `json:"message_id"`
	SenderID   string          `json:"sender_id"`
	Text       string          `json:"text"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// AIResponseJobPayload is the payload of a TypeGenerateAIResponse job.
type AIResponseJobPayload struct {
	ConversationID string `json:"conversation_id"`
	MerchantID     string `json:"merchant_id"`
	CustomerID     string `json:"customer_id"`
	Message        string `json:"message"`
	Platform       string `json:"platform"`
}

// DeliverMessagePayload is the payload of a TypeDeliverMessage job.
type DeliverMessagePayload struct {
	MerchantID  string `json:"merchant_id"`
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
	Platform    string `json:"platform"`
}

// NotificationPayload is the payload of a TypeSendNotification job.
type NotificationPayload struct {
	MerchantID string `json:"merchant_id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}
