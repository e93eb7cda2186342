package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultRelayTimeout = 15 * time.Second

// ErrRelayNotConfigured is returned when the relay has no endpoint or API key.
var ErrRelayNotConfigured = errors.New("mail: relay not configured")

// RelayMailer sends reset links through an HTTP transactional-mail relay. The request body is
// JSON {from, to, subject, text}; the API key goes in the Authorization header.
type RelayMailer struct {
	Endpoint   string
	APIKey     string
	From       string
	BaseURL    string
	HTTPClient *http.Client
}

type relayMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// NewRelayMailer returns a RelayMailer. baseURL is the public origin reset links point at.
func NewRelayMailer(endpoint, apiKey, from, baseURL string) *RelayMailer {
	return &RelayMailer{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		From:       from,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: defaultRelayTimeout},
	}
}

// SendPasswordReset posts one message. Errors carry the relay status and body, never the token.
func (m *RelayMailer) SendPasswordReset(ctx context.Context, identifier, token string, expiresAt time.Time) error {
	if m.Endpoint == "" || m.APIKey == "" {
		return ErrRelayNotConfigured
	}
	raw, err := json.Marshal(relayMessage{
		From:    m.From,
		To:      identifier,
		Subject: "Reset your password",
		Text: fmt.Sprintf("Use this link to choose a new password:\n\n%s\n\nThe link expires at %s.",
			ResetLink(m.BaseURL, identifier, token), expiresAt.UTC().Format(time.RFC1123)),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", m.APIKey)
	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("mail: relay request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mail: relay failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
