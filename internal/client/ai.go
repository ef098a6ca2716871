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
)

// DependencyAIProvider is the circuit breaker name for the AI service.
const DependencyAIProvider = "ai-provider"

// AIClient invokes the external AI response service. Prompt construction
// and model choice live on the other side of this call.
type AIClient struct {
	url        string
	httpClient *http.Client
	wrapper    *limiter.Wrapper
}

// NewAIClient creates an AI service client.
func NewAIClient(url string, wrapper *limiter.Wrapper) *AIClient {
	return &AIClient{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		wrapper:    wrapper,
	}
}

type generateReplyRequest struct {
	MerchantID string `json:"merchant_id"`
	CustomerID string `json:"customer_id"`
	Message    string `json:"message"`
}

type generateReplyResponse struct {
	Reply string `json:"reply"`
}

// GenerateReply asks the AI service for a reply to a customer message.
func (c *AIClient) GenerateReply(ctx context.Context, merchantID, customerID, message string) (string, error) {
	body, err := json.Marshal(generateReplyRequest{
		MerchantID: merchantID,
		CustomerID: customerID,
		Message:    message,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode reply request: %w", err)
	}

	resp, err := c.wrapper.Call(ctx, DependencyAIProvider, func(ctx context.Context) (*limiter.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
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
		return "", fmt.Errorf("generate reply for merchant %s: %w", merchantID, err)
	}

	var reply generateReplyResponse
	if err := json.Unmarshal(resp.Body, &reply); err != nil {
		return "", fmt.Errorf("failed to decode ai response: %w", err)
	}
	return reply.Reply, nil
}
