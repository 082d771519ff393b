package cmd

import (
	"time"

	"github.com/flowprobe/flowprobe/pkg/engine"
	"github.com/flowprobe/flowprobe/pkg/webhook"
	"github.com/redis/go-redis/v9"
)

// NewEngineClient builds the workflow engine client. An empty base URL means
// no engine is configured; callers run in degraded or simulated mode then.
func NewEngineClient(baseURL, apiKey string, timeout time.Duration) engine.Client {
	if baseURL == "" {
		return nil
	}

	return engine.NewHTTPClient(engine.HTTPConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: timeout,
	})
}

// NewDeduper builds the delivery deduplication store. An empty Redis URL
// disables deduplication rather than failing startup.
func NewDeduper(redisURL string) (webhook.Deduper, error) {
	if redisURL == "" {
		return webhook.NoopDeduper{}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	return webhook.NewRedisDeduper(redis.NewClient(opts), 0), nil
}
