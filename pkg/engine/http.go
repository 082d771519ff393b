package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/flowprobe/flowprobe/pkg/log"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 3
	defaultDelay    = 2 * time.Second
)

// HTTPConfig configures the HTTP engine client.
type HTTPConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Attempts int
	Delay    time.Duration
}

// HTTPClient is the production Client implementation. Requests that fail on
// transport errors or 5xx responses are retried up to Attempts times; 4xx
// responses fail immediately.
type HTTPClient struct {
	config HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient builds a Client for the engine at config.BaseURL.
func NewHTTPClient(config HTTPConfig) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	if config.Attempts <= 0 {
		config.Attempts = defaultAttempts
	}

	if config.Delay < 0 {
		config.Delay = defaultDelay
	}

	return &HTTPClient{
		config: config,
		client: &http.Client{},
		logger: log.WithModule("engine"),
	}
}

func (c *HTTPClient) Execute(ctx context.Context, engineWorkflowID string, payload map[string]any) (*Result, error) {
	endpoint := fmt.Sprintf("%s/workflows/%s/executions", c.config.BaseURL, url.PathEscape(engineWorkflowID))

	body, err := c.do(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode engine execution response: %w", err)
	}

	if result.EngineExecutionID == "" {
		return nil, fmt.Errorf("engine execution response missing execution id")
	}

	return &result, nil
}

func (c *HTTPClient) ExecuteStep(ctx context.Context, engineWorkflowID, stepID string, input any) (any, error) {
	endpoint := fmt.Sprintf("%s/workflows/%s/steps/%s/execute",
		c.config.BaseURL, url.PathEscape(engineWorkflowID), url.PathEscape(stepID))

	body, err := c.do(ctx, endpoint, map[string]any{"input": input})
	if err != nil {
		return nil, err
	}

	var response struct {
		Output any `json:"output"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode engine step response: %w", err)
	}

	return response.Output, nil
}

func (c *HTTPClient) do(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode engine request: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= c.config.Attempts; attempt++ {
		if attempt > 1 {
			c.logger.InfoContext(ctx, "Retrying engine request",
				"endpoint", endpoint, "attempt", attempt, "max_attempts", c.config.Attempts)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.Delay):
			}
		}

		body, err := c.attempt(ctx, endpoint, requestBody)
		if err == nil {
			return body, nil
		}

		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("engine request failed after %d attempts: %w", c.config.Attempts, lastErr)
}

func (c *HTTPClient) attempt(ctx context.Context, endpoint string, requestBody []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{StatusCode: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
