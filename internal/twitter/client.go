// Package twitter is the social platform client: it searches recent mentions
// of the bot's handle and posts replies. Rate limits are the caller's
// responsibility; this package only maps HTTP outcomes onto the engine's
// error taxonomy.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/umairimran/kaspaBot/internal/models"
)

// Config holds platform credentials and query parameters.
type Config struct {
	BaseURL     string
	BearerToken string
	AccessToken string
	BotHandle   string
	BotUserID   string
	MaxResults  int
}

// Client encapsulates the platform's v2 REST API.
type Client struct {
	cfg        Config
	logger     *zap.Logger
	httpClient *http.Client
}

type searchResponse struct {
	Data []tweet `json:"data"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

type tweet struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	AuthorID       string `json:"author_id"`
	ConversationID string `json:"conversation_id"`
	CreatedAt      string `json:"created_at"`
}

type tweetLookupResponse struct {
	Data tweet `json:"data"`
}

type postRequest struct {
	Text  string `json:"text"`
	Reply struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply"`
}

type postResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// NewClient creates and validates a new platform client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BearerToken == "" {
		return nil, fmt.Errorf("bearer token is required")
	}
	if cfg.BotHandle == "" {
		return nil, fmt.Errorf("bot handle is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twitter.com"
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 10
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// SearchMentions fetches mentions of the bot newer than sinceID. An empty
// sinceID fetches only the most recent page, bounding lookback on first run.
// Returns the mentions plus the newest seen ID for cursor advancement.
func (c *Client) SearchMentions(ctx context.Context, sinceID string) ([]models.Mention, string, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("@%s -is:retweet", c.cfg.BotHandle))
	params.Set("tweet.fields", "author_id,conversation_id,created_at")
	params.Set("max_results", fmt.Sprintf("%d", c.cfg.MaxResults))
	if sinceID != "" {
		params.Set("since_id", sinceID)
	}

	searchURL := fmt.Sprintf("%s/2/tweets/search/recent?%s", c.cfg.BaseURL, params.Encode())

	body, err := c.get(ctx, searchURL)
	if err != nil {
		return nil, "", err
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, "", fmt.Errorf("failed to parse search response: %w", err)
	}

	mentions := make([]models.Mention, 0, len(sr.Data))
	for _, t := range sr.Data {
		createdAt, _ := time.Parse(time.RFC3339, t.CreatedAt)
		mentions = append(mentions, models.Mention{
			ID:             t.ID,
			Text:           t.Text,
			AuthorID:       t.AuthorID,
			ConversationID: t.ConversationID,
			CreatedAt:      createdAt,
		})
	}

	newest := sr.Meta.NewestID
	if newest == "" && len(mentions) > 0 {
		newest = mentions[0].ID
	}

	c.logger.Info("Searched mentions",
		zap.Int("found", len(mentions)),
		zap.String("since_id", sinceID))

	return mentions, newest, nil
}

// GetTweet fetches a single tweet's text, used to pull the parent post of a
// reply as context for the answer service.
func (c *Client) GetTweet(ctx context.Context, tweetID string) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/2/tweets/%s", c.cfg.BaseURL, tweetID))
	if err != nil {
		return "", err
	}

	var lr tweetLookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return "", fmt.Errorf("failed to parse tweet lookup response: %w", err)
	}
	return lr.Data.Text, nil
}

// PostReply posts text as a reply to the given tweet and returns the new
// reply's ID.
func (c *Client) PostReply(ctx context.Context, text, inReplyTo string) (string, error) {
	var reqBody postRequest
	reqBody.Text = text
	reqBody.Reply.InReplyToTweetID = inReplyTo

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal post request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/2/tweets", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.postToken())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrTransientFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: status %d", models.ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: post", models.ErrRateLimited)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", models.ErrTransientFetch, resp.StatusCode)
	default:
		return "", fmt.Errorf("%w: status %d: %s", models.ErrPostRejected, resp.StatusCode, truncateBody(body))
	}

	var pr postResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return "", fmt.Errorf("failed to parse post response: %w", err)
	}

	c.logger.Info("Reply posted",
		zap.String("in_reply_to", inReplyTo),
		zap.String("reply_id", pr.Data.ID))

	return pr.Data.ID, nil
}

// BotUserID returns the bot's own account ID (used by the exclusion filter).
func (c *Client) BotUserID() string {
	return c.cfg.BotUserID
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", models.ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: search", models.ErrRateLimited)
	default:
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrTransientFetch, resp.StatusCode, truncateBody(body))
	}
}

// postToken prefers the user-context access token when one is configured.
func (c *Client) postToken() string {
	if c.cfg.AccessToken != "" {
		return c.cfg.AccessToken
	}
	return c.cfg.BearerToken
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
