package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hookq/internal/limiter"

	"go.uber.org/zap"
)

// DependencyNotifications is the circuit breaker name for the
// notification endpoint.
const DependencyNotifications = "notifications"

// NotifyClient posts operational notifications to a configured webhook
// URL. With no URL configured it only logs, which keeps notification
// jobs flowing in environments without a receiver.
type NotifyClient struct {
	url        string
	httpClient *http.Client
	wrapper    *limiter.Wrapper
	logger     *zap.SugaredLogger
}

// NewNotifyClient creates a notification client.
func NewNotifyClient(url string, wrapper *limiter.Wrapper, logger *zap.SugaredLogger) *NotifyClient {
	return &NotifyClient{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		wrapper:    wrapper,
		logger:     logger,
	}
}

type notifyRequest struct {
	MerchantID string `json:"merchant_id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// Notify delivers one notification.
func (c *NotifyClient) Notify(ctx context.Context, merchantID, subject, body string) error {
	if c.url == "" {
		c.logger.Infow("notification", "merchant_id", merchantID, "subject", subject)
		return nil
	}

	payload, err := json.Marshal(notifyRequest{MerchantID: merchantID, Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	_, err = c.wrapper.Call(ctx, DependencyNotifications, func(ctx context.Context) (*limiter.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		return &limiter.Response{
			StatusCode: httpResp.StatusCode,
			Headers:    httpResp.Header,
			Body:       respBody,
		}, nil
	})
	if err != nil {
		return fmt.Errorf("notify merchant %s: %w", merchantID, err)
	}
	return nil
}
