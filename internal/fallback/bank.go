// Package fallback holds the static question bank and evaluation
// templates served when the AI provider is degraded or unreachable.
package fallback

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/liangwu/tcmprep/internal/model"
)

//go:embed questions/*.json
var bankFS embed.FS

// Canned phrases used in place of provider-generated text. They double
// as fallback signatures: seeing one of them in "generated" content
// means the caller received canned output.
const (
	EvalLimitedNotice = "AI评估服务暂时不可用，已使用基础评估模式。请参考标准答案进行学习。"
	EvalErrorNotice   = "评估过程中出现错误，无法提供详细解析。请参考标准答案。"
	ChatOfflineReply  = "抱歉，AI服务暂时不可用。您可以稍后重试，或在考试模拟练习中使用预设题库继续学习。"
)

// entry is the on-disk bank record shape.
type entry struct {
	Question      string   `json:"question"`
	Type          string   `json:"type"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

// Item is one pre-authored question with its reference explanation.
type Item struct {
	Question    model.Question
	Explanation string
}

// Bank is a deterministic source of pre-authored questions keyed by
// exam category. Selection is round-robin per category so repeated
// provider failures walk the bank reproducibly.
type Bank struct {
	mu      sync.Mutex
	items   map[model.ExamCategory][]Item
	cursor  map[model.ExamCategory]int
	matcher *SignatureSet
}

// Load parses the embedded bank and validates it. Every category must
// have at least one well-formed entry; a hole here is a configuration
// error and must fail at startup, not at first use.
func Load() (*Bank, error) {
	b := &Bank{
		items:  make(map[model.ExamCategory][]Item),
		cursor: make(map[model.ExamCategory]int),
	}

	for _, cat := range model.Categories {
		data, err := bankFS.ReadFile("questions/" + string(cat) + ".json")
		if err != nil {
			return nil, fmt.Errorf("read bank for %s: %w", cat, err)
		}
		var entries []entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse bank for %s: %w", cat, err)
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("fallback bank for %s is empty", cat)
		}
		for i, e := range entries {
			item, err := toItem(e)
			if err != nil {
				return nil, fmt.Errorf("bank entry %d for %s: %w", i, cat, err)
			}
			b.items[cat] = append(b.items[cat], item)
		}
	}

	b.matcher = newSignatureSet(b)
	return b, nil
}

func toItem(e entry) (Item, error) {
	kind := model.QuestionKind(e.Type)
	switch kind {
	case model.KindMultipleChoice:
		if len(e.Options) == 0 {
			return Item{}, fmt.Errorf("multiple-choice entry has no options")
		}
	case model.KindShortAnswer:
		if len(e.Options) != 0 {
			return Item{}, fmt.Errorf("short-answer entry has options")
		}
	default:
		return Item{}, fmt.Errorf("unknown question type %q", e.Type)
	}
	if strings.TrimSpace(e.Question) == "" {
		return Item{}, fmt.Errorf("empty question text")
	}
	if strings.TrimSpace(e.CorrectAnswer) == "" {
		return Item{}, fmt.Errorf("empty correct answer")
	}
	if strings.TrimSpace(e.Explanation) == "" {
		return Item{}, fmt.Errorf("empty explanation")
	}
	return Item{
		Question: model.Question{
			Prompt:          e.Question,
			Kind:            kind,
			Options:         e.Options,
			CanonicalAnswer: e.CorrectAnswer,
		},
		Explanation: e.Explanation,
	}, nil
}

// Next returns the next bank question for the category, round-robin.
func (b *Bank) Next(cat model.ExamCategory) (Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items[cat]
	if len(items) == 0 {
		return Item{}, fmt.Errorf("no fallback questions for category %q", cat)
	}
	i := b.cursor[cat] % len(items)
	b.cursor[cat]++
	return items[i], nil
}

// Explanation returns the reference explanation for a bank question, or
// empty if the question did not come from the bank.
func (b *Bank) Explanation(prompt string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, items := range b.items {
		for _, it := range items {
			if it.Question.Prompt == prompt {
				return it.Explanation
			}
		}
	}
	return ""
}

// Signatures returns the fallback signature set derived from the bank.
func (b *Bank) Signatures() *SignatureSet {
	return b.matcher
}

// SignatureSet recognizes content as canned rather than freshly
// generated. It is built from the bank data plus the fixed notice
// phrases, so the policy follows the data, not hardcoded comparisons.
type SignatureSet struct {
	substrings []string
}

func newSignatureSet(b *Bank) *SignatureSet {
	s := &SignatureSet{
		substrings: []string{EvalLimitedNotice, EvalErrorNotice, ChatOfflineReply},
	}
	for _, items := range b.items {
		for _, it := range items {
			s.substrings = append(s.substrings, it.Question.Prompt)
		}
	}
	return s
}

// Match reports whether the content carries any known fallback signature.
func (s *SignatureSet) Match(content string) bool {
	for _, sub := range s.substrings {
		if strings.Contains(content, sub) {
			return true
		}
	}
	return false
}

// EvalExplanation builds the templated explanation used when grading a
// multiple-choice answer without the provider. Never empty.
func EvalExplanation(correct bool, canonical, reference string) string {
	var sb strings.Builder
	if correct {
		sb.WriteString("回答正确。")
	} else {
		sb.WriteString("回答错误。正确答案为 " + canonical + "。")
	}
	if reference != "" {
		sb.WriteString("\n\n" + reference)
	}
	sb.WriteString("\n\n" + EvalLimitedNotice)
	return sb.String()
}

// CannotVerifyExplanation builds the conservative explanation used when
// a free-text answer cannot be verified without the provider.
func CannotVerifyExplanation(canonical string) string {
	return "无法自动核对您的答案。标准答案：" + canonical + "\n\n" + EvalErrorNotice
}
