// Package chat answers free-form study questions through the AI
// provider, with a canned reply when the provider is down.
package chat

import (
	"context"
	"log/slog"

	"github.com/liangwu/tcmprep/internal/fallback"
	"github.com/liangwu/tcmprep/internal/health"
	"github.com/liangwu/tcmprep/internal/model"
	"github.com/liangwu/tcmprep/internal/provider"
)

const (
	chatTemperature = 0.7
	chatMaxTokens   = 1000
)

// Chatter is the provider boundary used by the assistant.
type Chatter interface {
	Chat(ctx context.Context, messages []model.ChatMessage, opts provider.Options) (string, error)
}

// Service produces assistant replies for a conversation.
type Service struct {
	provider Chatter
	bank     *fallback.Bank
}

// New creates the chat service.
func New(p Chatter, b *fallback.Bank) *Service {
	return &Service{provider: p, bank: b}
}

// Reply returns the assistant's answer to the conversation so far,
// prefixed with the category system prompt. Provider failures are
// absorbed into a canned offline reply and reported as a hard failure.
func (s *Service) Reply(ctx context.Context, cat model.ExamCategory, history []model.ChatMessage) (string, health.Outcome) {
	messages := append([]model.ChatMessage{provider.SystemMessage(cat)}, history...)

	reply, err := s.provider.Chat(ctx, messages, provider.Options{
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
	if err != nil {
		slog.Warn("chat reply failed, using offline reply", "category", cat, "error", err)
		return fallback.ChatOfflineReply, health.OutcomeFailure
	}
	if s.bank.Signatures().Match(reply) {
		return reply, health.OutcomeFallback
	}
	return reply, health.OutcomeSuccess
}
