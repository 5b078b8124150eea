// Package exam generates questions and evaluates answers, preferring
// live provider content and degrading to the static fallback bank.
package exam

import (
	"context"
	"log/slog"

	"github.com/liangwu/tcmprep/internal/fallback"
	"github.com/liangwu/tcmprep/internal/health"
	"github.com/liangwu/tcmprep/internal/model"
	"github.com/liangwu/tcmprep/internal/provider"
)

// Completer is the provider boundary used by the generator and evaluator.
type Completer interface {
	CompleteJSON(ctx context.Context, system, user string, temperature float32) (string, error)
}

// Generator produces exam questions for a category.
type Generator struct {
	provider Completer
	bank     *fallback.Bank
}

// NewGenerator creates a Generator backed by the given provider and bank.
func NewGenerator(p Completer, b *fallback.Bank) *Generator {
	return &Generator{provider: p, bank: b}
}

// Generate returns a question for the category together with the call
// outcome for the health tracker. Provider failures are absorbed by
// falling back to the bank and classified as fallback content; the
// returned error is non-nil only when the bank itself cannot serve the
// category, which is the one hard failure.
func (g *Generator) Generate(ctx context.Context, cat model.ExamCategory) (model.Question, health.Outcome, error) {
	system, user := provider.BuildQuestionPrompt(cat)
	raw, err := g.provider.CompleteJSON(ctx, system, user, 0.8)
	if err != nil {
		slog.Warn("question generation failed, using fallback bank", "category", cat, "error", err)
		return g.fromBank(cat)
	}

	q, err := parseQuestion(raw)
	if err != nil {
		slog.Warn("malformed generated question, using fallback bank", "category", cat, "error", err)
		return g.fromBank(cat)
	}

	if g.bank.Signatures().Match(q.Prompt) {
		return q, health.OutcomeFallback, nil
	}
	return q, health.OutcomeSuccess, nil
}

func (g *Generator) fromBank(cat model.ExamCategory) (model.Question, health.Outcome, error) {
	item, err := g.bank.Next(cat)
	if err != nil {
		return model.Question{}, health.OutcomeFailure, err
	}
	return item.Question, health.OutcomeFallback, nil
}
