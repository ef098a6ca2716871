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

// DependencyMessagingSend is the circuit breaker name for the Graph
// send API.
const DependencyMessagingSend = "messaging-send"

// GraphClient delivers messages through the Meta Graph API. Every call
// goes through the rate-limit wrapper so quota headers, 429s and outages
// are handled in one place.
type GraphClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	wrapper    *limiter.Wrapper
}

// NewGraphClient creates a Graph API client.
func NewGraphClient(baseURL, token string, wrapper *limiter.Wrapper) *GraphClient {
	return &GraphClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		wrapper:    wrapper,
	}
}

type sendMessageRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// SendMessage posts a text message to a platform recipient.
func (c *GraphClient) SendMessage(ctx context.Context, merchantID, recipientID, text string) error {
	var req sendMessageRequest
	req.Recipient.ID = recipientID
	req.Message.Text = text

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode send request: %w", err)
	}

	url := fmt.Sprintf("%s/me/messages?access_token=%s", c.baseURL, c.token)
	_, err = c.wrapper.Call(ctx, DependencyMessagingSend, func(ctx context.Context) (*limiter.Response, error) {
		return c.do(ctx, http.MethodPost, url, body)
	})
	if err != nil {
		return fmt.Errorf("send message for merchant %s: %w", merchantID, err)
	}
	return nil
}

func (c *GraphClient) do(ctx context.Context, method, url string, body []byte) (*limiter.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
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
}
