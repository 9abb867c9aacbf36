package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forewarn/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

func mailConfig(baseURL string) MailConfig {
	return MailConfig{
		BaseURL:  baseURL,
		APIKey:   types.SecretString("mail-key"),
		FromAddr: "alerts@forewarn.example",
		FromName: "Forewarn",
	}
}

func TestMailClient_Send(t *testing.T) {
	var gotAuth string
	var gotPayload mailPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewMailClient(mailConfig(srv.URL), nopLogger{})
	err := client.Send(context.Background(), "ana@example.com", "Ana", "Migraine Alert for Porto", "body text")
	require.NoError(t, err)

	assert.Equal(t, "Bearer mail-key", gotAuth)
	assert.Equal(t, "alerts@forewarn.example", gotPayload.From.Email)
	require.Len(t, gotPayload.Personalizations, 1)
	assert.Equal(t, "ana@example.com", gotPayload.Personalizations[0].To[0].Email)
	assert.Equal(t, "Migraine Alert for Porto", gotPayload.Subject)
	require.Len(t, gotPayload.Content, 1)
	assert.Equal(t, "text/plain", gotPayload.Content[0].Type)
	assert.Equal(t, "body text", gotPayload.Content[0].Value)
}

func TestMailClient_ErrorStatusMapsToDeliveryFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"message":"bad from address"}]}`))
	}))
	defer srv.Close()

	client := NewMailClient(mailConfig(srv.URL), nopLogger{})
	err := client.Send(context.Background(), "ana@example.com", "Ana", "subject", "body")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeDeliveryFailed, appErr.Code)
	assert.Contains(t, appErr.Message, "bad from address")
}

func TestMailClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewMailClient(mailConfig(srv.URL), nopLogger{})
	err := client.Send(context.Background(), "ana@example.com", "Ana", "subject", "body")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
}

type recordingMailer struct {
	to, toName, subject, body string
	err                       error
}

func (m *recordingMailer) Send(_ context.Context, to, toName, subject, body string) error {
	m.to, m.toName, m.subject, m.body = to, toName, subject, body
	return m.err
}

func TestEmailSender_RendersThenSends(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)
	mailer := &recordingMailer{}
	sender := NewEmailSender(renderer, mailer, nopLogger{})

	payload := types.AlertPayload{
		Kind:     types.DeliveryAlert,
		Location: renderLocation(),
		Verdicts: []*types.RiskVerdict{migraineVerdict()},
	}
	require.NoError(t, sender.Send(context.Background(), renderSubscriber(), payload))

	assert.Equal(t, "ana@example.com", mailer.to)
	assert.Equal(t, "Ana", mailer.toName)
	assert.Equal(t, "Migraine Alert for Porto", mailer.subject)
	assert.Contains(t, mailer.body, "Migraine risk: HIGH")
}

func TestEmailSender_TransportErrorPropagates(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)
	sendErr := errors.New("connection reset")
	sender := NewEmailSender(renderer, &recordingMailer{err: sendErr}, nopLogger{})

	payload := types.AlertPayload{
		Kind:     types.DeliveryAlert,
		Location: renderLocation(),
		Verdicts: []*types.RiskVerdict{migraineVerdict()},
	}
	err = sender.Send(context.Background(), renderSubscriber(), payload)
	assert.ErrorIs(t, err, sendErr)
}

func TestMailClient_TimeoutConfigured(t *testing.T) {
	client := NewMailClient(mailConfig("https://api.example.com/"), nopLogger{})
	assert.Equal(t, "https://api.example.com", client.cfg.BaseURL)
	assert.Equal(t, 10*time.Second, client.http.Timeout)
}
