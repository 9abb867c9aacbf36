package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"forewarn/internal/types"
)

const mailTimeout = 10 * time.Second

// MailConfig holds the mail API connection settings.
type MailConfig struct {
	BaseURL  string
	APIKey   types.SecretString
	FromAddr string
	FromName string
}

// MailClient posts emails to a SendGrid v3 compatible mail API. A single
// attempt per delivery: the policy engine owns retry semantics, so a
// failed send just leaves the verdicts pending for the next pass.
type MailClient struct {
	cfg  MailConfig
	http *http.Client
	log  types.Logger
}

// MailOption customizes a MailClient.
type MailOption func(*MailClient)

// WithMailHTTPClient overrides the underlying HTTP client.
func WithMailHTTPClient(h *http.Client) MailOption {
	return func(c *MailClient) { c.http = h }
}

// NewMailClient creates a MailClient.
func NewMailClient(cfg MailConfig, log types.Logger, opts ...MailOption) *MailClient {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	c := &MailClient{
		cfg:  cfg,
		http: &http.Client{Timeout: mailTimeout},
		log:  log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailPersonalization struct {
	To []mailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailPayload struct {
	Personalizations []mailPersonalization `json:"personalizations"`
	From             mailAddress           `json:"from"`
	Subject          string                `json:"subject"`
	Content          []mailContent         `json:"content"`
}

// Send transmits one plain-text email. The API returns 202 Accepted on
// success.
func (c *MailClient) Send(ctx context.Context, to, toName, subject, body string) error {
	payload := mailPayload{
		Personalizations: []mailPersonalization{
			{To: []mailAddress{{Email: to, Name: toName}}},
		},
		From:    mailAddress{Email: c.cfg.FromAddr, Name: c.cfg.FromName},
		Subject: subject,
		Content: []mailContent{{Type: "text/plain", Value: body}},
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v3/mail/send", bytes.NewReader(encoded))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build mail request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey.Unmask())

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeDeliveryFailed, "mail request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode == http.StatusTooManyRequests {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "mail provider rate limit exceeded", nil)
	}
	return types.NewAppError(types.ErrCodeDeliveryFailed,
		fmt.Sprintf("mail provider returned status %d: %s", resp.StatusCode, string(respBody)), nil)
}
