package exam

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/liangwu/tcmprep/internal/fallback"
	"github.com/liangwu/tcmprep/internal/health"
	"github.com/liangwu/tcmprep/internal/model"
	"github.com/liangwu/tcmprep/internal/provider"
)

// ErrEmptyAnswer rejects evaluation of a blank submission. This is a
// caller validation error, never a service degradation.
var ErrEmptyAnswer = errors.New("submitted answer is empty")

// Evaluator grades submitted answers against a question.
type Evaluator struct {
	provider Completer
	bank     *fallback.Bank
}

// NewEvaluator creates an Evaluator backed by the given provider and bank.
func NewEvaluator(p Completer, b *fallback.Bank) *Evaluator {
	return &Evaluator{provider: p, bank: b}
}

// Evaluate grades the submitted answer and produces an explanation.
//
// Multiple-choice correctness is always the exact label match against
// the canonical answer; the provider only supplies the explanation.
// Short-answer correctness needs the provider's semantic judgment; when
// the provider is down a conservative rule-based comparison substitutes,
// and anything it cannot verify is marked incorrect with the canonical
// answer shown for reference.
func (e *Evaluator) Evaluate(ctx context.Context, cat model.ExamCategory, q model.Question, submitted string) (model.Evaluation, health.Outcome, error) {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" {
		return model.Evaluation{}, health.OutcomeSuccess, ErrEmptyAnswer
	}

	system, user := provider.BuildEvalPrompt(cat, q, submitted)
	raw, err := e.provider.CompleteJSON(ctx, system, user, 0.3)
	if err != nil {
		slog.Warn("answer evaluation failed, using rule-based fallback", "category", cat, "error", err)
		return e.ruleBased(q, submitted), health.OutcomeFallback, nil
	}

	ge, err := parseEvaluation(raw)
	if err != nil {
		slog.Warn("malformed evaluation, using rule-based fallback", "category", cat, "error", err)
		return e.ruleBased(q, submitted), health.OutcomeFallback, nil
	}

	ev := model.Evaluation{
		IsCorrect:       ge.IsCorrect,
		Explanation:     ge.Explanation,
		CanonicalAnswer: q.CanonicalAnswer,
	}
	if q.Kind == model.KindMultipleChoice {
		// Grading stays deterministic regardless of the provider's opinion.
		ev.IsCorrect = gradeChoice(submitted, q.CanonicalAnswer)
	}

	if e.bank.Signatures().Match(ge.Explanation) {
		return ev, health.OutcomeFallback, nil
	}
	return ev, health.OutcomeSuccess, nil
}

// ruleBased grades without the provider.
func (e *Evaluator) ruleBased(q model.Question, submitted string) model.Evaluation {
	reference := e.bank.Explanation(q.Prompt)

	if q.Kind == model.KindMultipleChoice {
		correct := gradeChoice(submitted, q.CanonicalAnswer)
		return model.Evaluation{
			IsCorrect:       correct,
			Explanation:     fallback.EvalExplanation(correct, q.CanonicalAnswer, reference),
			CanonicalAnswer: q.CanonicalAnswer,
		}
	}

	if matchesCanonical(submitted, q.CanonicalAnswer) {
		return model.Evaluation{
			IsCorrect:       true,
			Explanation:     fallback.EvalExplanation(true, q.CanonicalAnswer, reference),
			CanonicalAnswer: q.CanonicalAnswer,
		}
	}
	return model.Evaluation{
		IsCorrect:       false,
		Explanation:     fallback.CannotVerifyExplanation(q.CanonicalAnswer),
		CanonicalAnswer: q.CanonicalAnswer,
	}
}

// gradeChoice is the pure grading function for multiple-choice answers:
// the submitted label must equal the canonical label.
func gradeChoice(submitted, canonical string) bool {
	return normalizeChoice(submitted) != "" && normalizeChoice(submitted) == normalizeChoice(canonical)
}

// matchesCanonical is the conservative short-answer comparison: the
// normalized submission must equal the canonical answer, or be a
// substantial substring of it (at least two runes).
func matchesCanonical(submitted, canonical string) bool {
	s := normalizeText(submitted)
	c := normalizeText(canonical)
	if s == "" || c == "" {
		return false
	}
	if s == c {
		return true
	}
	return utf8.RuneCountInString(s) >= 2 && strings.Contains(c, s)
}

// normalizeText strips whitespace and punctuation for comparison.
func normalizeText(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
