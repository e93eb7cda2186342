package botcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVerifyURL is Google's siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

type siteVerifyResponse struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	Action      string   `json:"action"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// Recaptcha verifies tokens against the reCAPTCHA siteverify API.
type Recaptcha struct {
	secret    string
	verifyURL string
	client    *http.Client
}

// NewRecaptcha returns a verifier posting to verifyURL (DefaultVerifyURL when empty) with the
// given per-call timeout.
func NewRecaptcha(secret, verifyURL string, timeout time.Duration) *Recaptcha {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recaptcha{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Verify posts the token and decodes the verdict. Transport failures, non-200 answers and
// malformed bodies are errors.
func (r *Recaptcha) Verify(ctx context.Context, token, remoteIP string) (Result, error) {
	if strings.TrimSpace(token) == "" {
		return Result{}, ErrMissingToken
	}
	form := url.Values{}
	form.Set("secret", r.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("botcheck: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("botcheck: siteverify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("botcheck: siteverify status %d", resp.StatusCode)
	}

	var body siteVerifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("botcheck: decode: %w", err)
	}
	return Result{
		Success:     body.Success,
		Score:       body.Score,
		Action:      body.Action,
		Hostname:    body.Hostname,
		ErrorCodes:  body.ErrorCodes,
		ChallengeTS: body.ChallengeTS,
	}, nil
}
