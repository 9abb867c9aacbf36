// Package llm provides the OpenAI-compatible chat completions client, the
// prompt context serializer, and the remote risk classifier built on them.
// All outbound calls go through the Client, which enforces circuit breaking,
// bounded retries with exponential backoff, and error mapping.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"forewarn/internal/types"
)

// Message is one chat turn in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the chat completions request body.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

// CompletionResponse is the subset of the chat completions response the
// classifier consumes.
type CompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Content returns the first choice's message content, or "".
func (r *CompletionResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Choices[0].Message.Content)
}

// RetryPolicy configures retry behavior for completion calls. Backoff is
// deterministic exponential doubling from InitialWait, overridden by a
// Retry-After header when the upstream supplies one.
type RetryPolicy struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
}

// DefaultRetryPolicy returns the standard policy for model calls: up to
// three retries starting at 2s, doubling each attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		InitialWait: 2 * time.Second,
		MaxWait:     30 * time.Second,
	}
}

// retryableStatuses are the HTTP statuses worth another attempt. 404 is
// included because some gateway deployments briefly return it while a model
// is being loaded.
var retryableStatuses = map[int]bool{
	http.StatusNotFound:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Config is the runtime configuration for the completions client. It is
// injected at construction; the reload boundary belongs to the caller.
type Config struct {
	BaseURL     string
	APIKey      types.SecretString
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client is a minimal OpenAI-compatible chat completions client with
// retries and a circuit breaker. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	retry   RetryPolicy
	log     types.Logger
	sleepFn func(time.Duration)
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithSleepFunc overrides the sleep between retries. For tests.
func WithSleepFunc(fn func(time.Duration)) ClientOption {
	return func(c *Client) { c.sleepFn = fn }
}

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// NewClient builds a completions client. The circuit breaker opens after
// five consecutive failures and half-opens after 30 seconds.
func NewClient(cfg Config, log types.Logger, opts ...ClientOption) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "llm-completions",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		retry:   DefaultRetryPolicy(),
		log:     log,
		sleepFn: time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChatComplete POSTs the messages to {base}/v1/chat/completions and returns
// the parsed response along with the raw request and response bodies for
// audit storage.
//
// Retryable failures (transport errors and the retryable status set) are
// retried up to the policy's limit with doubling backoff, honoring
// Retry-After. Other HTTP errors fail immediately.
func (c *Client) ChatComplete(ctx context.Context, messages []Message) (*CompletionResponse, []byte, []byte, error) {
	reqBody := CompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode completion request", err)
	}

	respBody, err := c.post(ctx, payload)
	if err != nil {
		return nil, payload, respBody, err
	}

	var parsed CompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, payload, respBody, types.NewAppError(types.ErrCodeModelUnparseable, "completion response is not valid JSON", err)
	}
	return &parsed, payload, respBody, nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	url := c.cfg.BaseURL + "/v1/chat/completions"

	var lastBody []byte
	var lastStatus int
	var lastErr error

	maxAttempts := 1 + c.retry.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastBody, types.NewAppError(types.ErrCodeUpstreamModel, "completion call cancelled", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build completion request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if key := c.cfg.APIKey.Unmask(); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.http.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if retryableStatuses[r.StatusCode] {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})

		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return nil, types.NewAppError(types.ErrCodeUpstreamModel, "failed to read completion response", readErr)
			}
			if resp.StatusCode >= 400 {
				// Non-retryable HTTP error (e.g. 400, 401).
				return body, types.NewAppError(types.ErrCodeUpstreamModel,
					fmt.Sprintf("completion endpoint returned %d", resp.StatusCode), nil)
			}
			return body, nil
		}

		lastErr = err
		var retryAfter string
		if resp != nil {
			lastStatus = resp.StatusCode
			retryAfter = resp.Header.Get("Retry-After")
			lastBody, _ = io.ReadAll(resp.Body)
			resp.Body.Close()
		}

		// An open breaker means the upstream is already known bad; more
		// attempts here would only be absorbed by it.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}

		if attempt < maxAttempts-1 {
			wait := c.backoff(attempt, retryAfter)
			c.log.Warn("completion call failed, retrying",
				"attempt", attempt+1,
				"status", lastStatus,
				"wait", wait.String(),
				"error", err,
			)
			c.sleepFn(wait)
		}
	}

	code := types.ErrCodeUpstreamModel
	if lastStatus == http.StatusTooManyRequests {
		code = types.ErrCodeUpstreamRateLimited
	}
	return lastBody, types.NewAppError(code, "completion call failed after retries", lastErr)
}

// backoff doubles the initial wait per attempt, clamped to MaxWait. A
// parseable Retry-After header wins over the computed wait.
func (c *Client) backoff(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			wait := time.Duration(seconds) * time.Second
			if wait > c.retry.MaxWait {
				wait = c.retry.MaxWait
			}
			return wait
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			if wait := time.Until(t); wait > 0 {
				if wait > c.retry.MaxWait {
					wait = c.retry.MaxWait
				}
				return wait
			}
		}
	}

	wait := c.retry.InitialWait << attempt
	if wait > c.retry.MaxWait {
		wait = c.retry.MaxWait
	}
	return wait
}

// ExtractJSON pulls a JSON object out of model output. It tries the content
// directly first, then each fenced code block, stripping a language hint
// like "json" from the fence line.
func ExtractJSON(content string) (map[string]any, bool) {
	text := strings.TrimSpace(content)

	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, true
	}

	if !strings.Contains(text, "```") {
		return nil, false
	}
	parts := strings.Split(text, "```")
	for i := 1; i < len(parts); i += 2 {
		block := parts[i]
		if idx := strings.IndexByte(block, '\n'); idx >= 0 {
			block = block[idx+1:]
		}
		out = nil
		if err := json.Unmarshal([]byte(block), &out); err == nil {
			return out, true
		}
	}
	return nil, false
}
