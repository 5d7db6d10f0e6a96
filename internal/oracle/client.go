package oracle

import (
	"context"
	"encoding/json"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/errs"
	"github.com/insight-agent/backend/internal/metrics"
	"github.com/insight-agent/backend/pkg/circuitbreaker"
	"github.com/insight-agent/backend/pkg/logger"
	"github.com/insight-agent/backend/pkg/retry"
)

// Client talks to the completion API. Every structured call runs in JSON
// mode so responses can be decoded against a typed contract.
type Client struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker("oracle", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Oracle client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// completeJSON issues a JSON-mode chat completion and returns the raw body.
// requestType labels the token metrics.
func (c *Client) completeJSON(ctx context.Context, requestType, systemPrompt, userPrompt string, temperature float32) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: c.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
				ResponseFormat: &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONObject,
				},
				Temperature: temperature,
			})
			if err != nil {
				return err
			}

			metrics.OracleTokensUsed.WithLabelValues(c.model, requestType).Add(float64(resp.Usage.TotalTokens))
			logger.Debug("Oracle completion generated",
				zap.String("request_type", requestType),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			content = resp.Choices[0].Message.Content
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindOracleContract, err, "oracle request failed")
	}
	if content == "" {
		return nil, errs.OracleContract("oracle returned empty JSON content")
	}
	if !json.Valid([]byte(content)) {
		return nil, errs.OracleContract("oracle returned invalid JSON output")
	}
	return []byte(content), nil
}

// completeText issues a plain completion for free-form prose output.
func (c *Client) completeText(ctx context.Context, requestType, systemPrompt, userPrompt string, temperature float32, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: c.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return err
			}

			metrics.OracleTokensUsed.WithLabelValues(c.model, requestType).Add(float64(resp.Usage.TotalTokens))
			content = resp.Choices[0].Message.Content
			return nil
		})
	})
	if err != nil {
		return "", errs.Wrap(errs.KindOracleContract, err, "oracle request failed")
	}
	return content, nil
}
