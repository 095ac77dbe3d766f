// Package email delivers one-time codes through a transactional email HTTP API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"message-feed/backend/internal/otp"
)

const defaultTimeout = 15 * time.Second

// HTTPClient posts codes to a JSON email API (`{"from","to","subject","text"}`) with a bearer key.
type HTTPClient struct {
	APIKey     string
	BaseURL    string
	From       string
	HTTPClient *http.Client
}

// NewHTTPClient returns a client for the email API at baseURL.
func NewHTTPClient(apiKey, baseURL, from string) *HTTPClient {
	return &HTTPClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		From:       from,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SendCode emails the code to d.To. Does not log the code.
func (c *HTTPClient) SendCode(ctx context.Context, d otp.Delivery) error {
	if c.APIKey == "" || c.BaseURL == "" {
		return fmt.Errorf("email: API not configured")
	}
	if d.To == "" {
		return fmt.Errorf("email: recipient is empty")
	}
	raw, err := json.Marshal(message{
		From:    c.From,
		To:      d.To,
		Subject: "Your recovery code",
		Text: fmt.Sprintf("Your recovery code is %s. It expires at %s.",
			d.Code, d.ExpiresAt.UTC().Format(time.RFC1123)),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("email: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

var _ otp.Sender = (*HTTPClient)(nil)
