// Package provider wraps the OpenAI-compatible completion API behind a
// small adapter. Failures are returned as errors; callers decide how to
// degrade.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liangwu/tcmprep/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Options tunes a single completion call.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// Client wraps an OpenAI-compatible API client. Every call is bounded
// by the configured timeout so a hung provider degrades into fallback
// content instead of holding the request open.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// New creates a new provider client. A timeout of zero leaves calls
// bounded only by the caller's context.
func New(baseURL, apiKey, modelName string, timeout time.Duration) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		timeout: timeout,
	}
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Chat sends a conversation to the provider and returns the assistant
// reply text.
func (c *Client) Chat(ctx context.Context, messages []model.ChatMessage, opts Options) (string, error) {
	chatMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
			Role:    apiRole(m.Role),
			Content: m.Content,
		})
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMsgs,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("provider chat call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON sends a system/user prompt pair and asks the provider
// for a JSON object response. The raw text is returned unparsed.
func (c *Client) CompleteJSON(ctx context.Context, system, user string, temperature float32) (string, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("provider completion call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	raw := resp.Choices[0].Message.Content
	slog.Debug("provider response", "raw", raw)
	return raw, nil
}

// Ping verifies the provider endpoint is reachable with a minimal call.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	if err != nil {
		return fmt.Errorf("provider health check: %w", err)
	}
	return nil
}

func apiRole(r model.Role) string {
	switch r {
	case model.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case model.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
