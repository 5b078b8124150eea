package exam

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liangwu/tcmprep/internal/model"
)

// generatedQuestion is the JSON shape the provider is asked to return.
type generatedQuestion struct {
	Question      string   `json:"question"`
	Type          string   `json:"type"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// parseQuestion validates raw provider output into a Question. Any
// structural defect is an error; callers treat it as a provider failure.
func parseQuestion(raw string) (model.Question, error) {
	var gq generatedQuestion
	if err := json.Unmarshal([]byte(raw), &gq); err != nil {
		return model.Question{}, fmt.Errorf("parse generated question: %w (raw: %s)", err, raw)
	}

	gq.Question = strings.TrimSpace(gq.Question)
	gq.CorrectAnswer = strings.TrimSpace(gq.CorrectAnswer)
	if gq.Question == "" {
		return model.Question{}, fmt.Errorf("generated question has empty prompt")
	}
	if gq.CorrectAnswer == "" {
		return model.Question{}, fmt.Errorf("generated question has empty answer")
	}

	kind := model.QuestionKind(gq.Type)
	switch kind {
	case model.KindMultipleChoice:
		if len(gq.Options) < 2 {
			return model.Question{}, fmt.Errorf("multiple-choice question has %d options", len(gq.Options))
		}
		labels := make(map[string]bool, len(gq.Options))
		for i, opt := range gq.Options {
			label := optionLabel(opt)
			if label == "" {
				return model.Question{}, fmt.Errorf("option %d has no letter label: %q", i, opt)
			}
			if labels[label] {
				return model.Question{}, fmt.Errorf("duplicate option label %q", label)
			}
			labels[label] = true
		}
		if !labels[normalizeChoice(gq.CorrectAnswer)] {
			return model.Question{}, fmt.Errorf("correct answer %q matches no option label", gq.CorrectAnswer)
		}
	case model.KindShortAnswer:
		gq.Options = nil
	default:
		return model.Question{}, fmt.Errorf("unknown question type %q", gq.Type)
	}

	return model.Question{
		Prompt:          gq.Question,
		Kind:            kind,
		Options:         gq.Options,
		CanonicalAnswer: gq.CorrectAnswer,
	}, nil
}

// generatedEvaluation is the JSON shape for provider answer judgments.
type generatedEvaluation struct {
	IsCorrect   bool   `json:"is_correct"`
	Explanation string `json:"explanation"`
}

func parseEvaluation(raw string) (generatedEvaluation, error) {
	var ge generatedEvaluation
	if err := json.Unmarshal([]byte(raw), &ge); err != nil {
		return generatedEvaluation{}, fmt.Errorf("parse evaluation: %w (raw: %s)", err, raw)
	}
	ge.Explanation = strings.TrimSpace(ge.Explanation)
	if ge.Explanation == "" {
		return generatedEvaluation{}, fmt.Errorf("evaluation has empty explanation")
	}
	return ge, nil
}

// optionLabel extracts the leading letter label of an option ("A. 黄连"
// yields "A"), or empty if the option carries none.
func optionLabel(opt string) string {
	opt = strings.TrimSpace(opt)
	if opt == "" {
		return ""
	}
	r := rune(opt[0])
	if r < 'A' || r > 'Z' {
		return ""
	}
	return string(r)
}

// normalizeChoice reduces a submitted multiple-choice answer to its
// letter label ("a" or "A. 黄连" both yield "A").
func normalizeChoice(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	return string(s[0])
}
