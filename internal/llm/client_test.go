package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forewarn/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Warn(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (l nopLogger) With(...any) types.Logger { return l }

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func newTestClient(t *testing.T, srv *httptest.Server, apiKey string) (*Client, *[]time.Duration) {
	t.Helper()
	var sleeps []time.Duration
	c := NewClient(Config{
		BaseURL:     srv.URL,
		APIKey:      types.SecretString(apiKey),
		Model:       "test-model",
		Temperature: 0.2,
		Timeout:     5 * time.Second,
	}, nopLogger{}, WithSleepFunc(func(d time.Duration) { sleeps = append(sleeps, d) }))
	return c, &sleeps
}

func TestChatComplete_Success(t *testing.T) {
	var gotAuth string
	var gotReq CompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(completionBody(`{"probability_level":"HIGH"}`)))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, "sk-test")
	resp, reqBody, respBody, err := c.ChatComplete(context.Background(),
		[]Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "usr"}})

	require.NoError(t, err)
	assert.Equal(t, `{"probability_level":"HIGH"}`, resp.Content())
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.InDelta(t, 0.2, gotReq.Temperature, 1e-9)
	assert.Len(t, gotReq.Messages, 2)
	assert.NotEmpty(t, reqBody)
	assert.NotEmpty(t, respBody)
}

func TestChatComplete_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(completionBody("{}")))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, "")
	_, _, _, err := c.ChatComplete(context.Background(), []Message{{Role: "user", Content: "hi"}})

	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestChatComplete_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(completionBody("ok")))
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv, "k")
	resp, _, _, err := c.ChatComplete(context.Background(), []Message{{Role: "user", Content: "hi"}})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content())
	assert.Equal(t, 3, attempts)
	// Exponential doubling from 2s.
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 2*time.Second, (*sleeps)[0])
	assert.Equal(t, 4*time.Second, (*sleeps)[1])
}

func TestChatComplete_ExhaustsRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv, "k")
	_, _, _, err := c.ChatComplete(context.Background(), []Message{{Role: "user", Content: "hi"}})

	require.Error(t, err)
	assert.Equal(t, 4, attempts) // initial + 3 retries
	assert.Len(t, *sleeps, 3)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamModel, appErr.Code)
}

func TestChatComplete_RateLimitHonorsRetryAfter(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionBody("ok")))
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv, "k")
	_, _, _, err := c.ChatComplete(context.Background(), []Message{{Role: "user", Content: "hi"}})

	require.NoError(t, err)
	require.Len(t, *sleeps, 1)
	assert.Equal(t, 7*time.Second, (*sleeps)[0])
}

func TestChatComplete_404IsRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(completionBody("ok")))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, "k")
	_, _, _, err := c.ChatComplete(context.Background(), []Message{{Role: "user", Content: "hi"}})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestChatComplete_400NotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv, "k")
	_, _, respBody, err := c.ChatComplete(context.Background(), []Message{{Role: "user", Content: "hi"}})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *sleeps)
	assert.Contains(t, string(respBody), "bad request")
}

func TestChatComplete_InvalidResponseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, "k")
	_, _, respBody, err := c.ChatComplete(context.Background(), []Message{{Role: "user", Content: "hi"}})

	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeModelUnparseable, appErr.Code)
	assert.Equal(t, "not json at all", string(respBody))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantOK  bool
		wantKey string
	}{
		{"direct object", `{"probability_level":"HIGH"}`, true, "probability_level"},
		{"fenced with hint", "Here you go:\n```json\n{\"probability_level\":\"LOW\"}\n```", true, "probability_level"},
		{"fenced without hint", "```\n{\"a\":1}\n```", true, "a"},
		{"plain prose", "not valid json", false, ""},
		{"json string literal", `"not valid json"`, false, ""},
		{"empty", "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := ExtractJSON(tt.content)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Contains(t, out, tt.wantKey)
			}
		})
	}
}
