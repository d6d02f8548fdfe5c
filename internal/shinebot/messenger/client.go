// Package messenger speaks to the messaging platform: an outbound Graph-style
// send API and the inbound webhook front-end.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shineshop/shinebot/common/redact"
)

const defaultGraphBase = "https://graph.facebook.com/v17.0"

// ClientConfig configures the send-API client.
type ClientConfig struct {
	// AccessToken is the page access token, passed as a query parameter on
	// every call.
	AccessToken string
	// BaseURL overrides the API endpoint (used by tests). Defaults to the
	// public Graph API.
	BaseURL string
	// Timeout for each HTTP request. Defaults to 15s.
	Timeout time.Duration
}

// Client sends text messages to platform users.
type Client struct {
	cfg    ClientConfig
	client *http.Client
}

// NewClient returns a Client for the configured page.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGraphBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- wire types (subset of the send API) ---

type sendRequest struct {
	Recipient recipientRef `json:"recipient"`
	Message   messageBody  `json:"message"`
}

type recipientRef struct {
	ID string `json:"id"`
}

type messageBody struct {
	Text string `json:"text"`
}

type sendResponse struct {
	RecipientID string      `json:"recipient_id"`
	MessageID   string      `json:"message_id"`
	Error       *graphError `json:"error,omitempty"`
}

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// SendText delivers one text message to userID. The access token travels in
// the URL, so every error path scrubs it before the error leaves this
// package.
func (c *Client) SendText(ctx context.Context, userID, text string) error {
	payload, err := json.Marshal(sendRequest{
		Recipient: recipientRef{ID: userID},
		Message:   messageBody{Text: text},
	})
	if err != nil {
		return fmt.Errorf("messenger: marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/me/messages?%s", c.cfg.BaseURL,
		url.Values{"access_token": {c.cfg.AccessToken}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("messenger: build send request: %w", c.scrub(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("messenger: send to %s: %w", userID, c.scrub(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("messenger: read send response for %s: %w", userID, err)
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return fmt.Errorf("messenger: send to %s: API error %d (%s): %s",
			userID, parsed.Error.Code, parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("messenger: send to %s: status %d: %s",
			userID, resp.StatusCode, redact.String(string(body), c.cfg.AccessToken))
	}
	return nil
}

// CheckToken verifies the access token against the API (GET /me). Called once
// at startup, through the retry helper, so a bad token is caught before the
// webhook starts accepting traffic.
func (c *Client) CheckToken(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/me?%s", c.cfg.BaseURL,
		url.Values{"access_token": {c.cfg.AccessToken}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("messenger: build token check: %w", c.scrub(err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("messenger: token check: %w", c.scrub(err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("messenger: token check: status %d", resp.StatusCode)
	}
	return nil
}

// scrub removes the access token from error text (URL errors echo the full
// request URL, query string included).
func (c *Client) scrub(err error) error {
	return fmt.Errorf("%s", redact.String(err.Error(), c.cfg.AccessToken))
}
