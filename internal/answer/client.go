// Package answer is the client for the external question-answering backend.
package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/umairimran/kaspaBot/internal/models"
)

// Answer is the generated reply plus citation metadata.
type Answer struct {
	Text      string   `json:"answer"`
	Citations []string `json:"citations"`
}

// Client represents the answer service client
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type askRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id"`
}

// NewClient creates a new answer service client. The timeout bounds every
// Ask call; answer generation can be slow.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Ask sends a question and returns the generated answer. Any transport
// error, timeout or non-200 status maps to models.ErrUpstreamUnavailable.
func (c *Client) Ask(ctx context.Context, question, conversationID string) (*Answer, error) {
	reqBody := askRequest{
		Question:       question,
		ConversationID: conversationID,
		UserID:         "twitter_user",
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/ask", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", models.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var ans Answer
	if err := json.NewDecoder(resp.Body).Decode(&ans); err != nil {
		return nil, fmt.Errorf("%w: bad response body: %v", models.ErrUpstreamUnavailable, err)
	}

	return &ans, nil
}

// Ping checks if the answer service is available
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("answer service health check failed with status %d", resp.StatusCode)
	}

	return nil
}
