// Package ai talks to an OpenAI compatible chat completion API to summarize
// notes, break projects into tasks and list risks for a scenario.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"noteforge/api/internal/metrics"
)

var (
	ErrDisabled      = errors.New("ai is not configured")
	ErrEmptyResponse = errors.New("ai returned an empty response")
	ErrUpstream      = errors.New("ai upstream failed")
)

// chatAPI is the part of *openai.Client the package uses.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Options struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
	MaxRetries        int
	MaxTasks          int
}

type Client struct {
	api        chatAPI
	model      string
	timeout    time.Duration
	maxRetries int
	maxTasks   int
	backoff    time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New returns a client, or nil when opts carries no API key. A nil *Client is
// valid and answers every call with ErrDisabled.
func New(opts Options, logger *zap.Logger, m *metrics.Metrics) *Client {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if strings.TrimSpace(opts.BaseURL) != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	return newWithAPI(openai.NewClientWithConfig(cfg), opts, logger, m)
}

func newWithAPI(api chatAPI, opts Options, logger *zap.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	maxTasks := opts.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 8
	}
	return &Client{
		api:        api,
		model:      model,
		timeout:    timeout,
		maxRetries: max(opts.MaxRetries, 0),
		maxTasks:   maxTasks,
		backoff:    500 * time.Millisecond,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), max(rpm/10, 1)),
		logger:     logger.Named("ai"),
		metrics:    m,
	}
}

func (c *Client) Enabled() bool {
	return c != nil
}

func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Ping sends a tiny completion to check credentials and reachability.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.complete(ctx, "ping", "Reply with the single word: pong", "ping", false)
	return err
}

// complete runs one chat completion, waiting on the rate limiter and retrying
// transient failures with exponential backoff.
func (c *Client) complete(ctx context.Context, operation, system, user string, jsonObject bool) (string, error) {
	if c == nil {
		return "", ErrDisabled
	}
	started := time.Now()
	outcome := "error"
	defer func() {
		c.metrics.ObserveAI(operation, outcome, time.Since(started))
	}()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.3,
	}
	if jsonObject {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			c.logger.Warn("retrying ai call",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("ai rate limit wait: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.api.CreateChatCompletion(callCtx, req)
		cancel()
		if err != nil {
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if content == "" {
			return "", ErrEmptyResponse
		}
		outcome = "ok"
		c.logger.Debug("ai call finished",
			zap.String("operation", operation),
			zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
			zap.Int("total_tokens", resp.Usage.TotalTokens),
			zap.Duration("elapsed", time.Since(started)),
		)
		return content, nil
	}
	return "", fmt.Errorf("ai %s: %w: %w", operation, ErrUpstream, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}
