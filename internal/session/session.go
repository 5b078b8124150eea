// Package session drives the per-category exam practice cycle:
// generate a question, accept an answer, evaluate it, advance.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/liangwu/tcmprep/internal/chat"
	"github.com/liangwu/tcmprep/internal/exam"
	"github.com/liangwu/tcmprep/internal/health"
	"github.com/liangwu/tcmprep/internal/model"
	"github.com/liangwu/tcmprep/internal/provider"
)

// State is the controller's position in the question cycle.
type State string

const (
	StateIdle           State = "idle"
	StateGenerating     State = "generating"
	StateAwaitingAnswer State = "awaiting-answer"
	StateEvaluating     State = "evaluating"
	StateAnswered       State = "answered"
)

var (
	// ErrStale marks an in-flight result that arrived after the
	// session moved on; the caller discards it.
	ErrStale = errors.New("result superseded by a newer request")
	// ErrNoQuestion rejects an answer when no question is awaiting one.
	ErrNoQuestion = errors.New("no question awaiting an answer")
)

// Snapshot is the session state returned from every operation. It is a
// value; callers cannot mutate the session through it.
type Snapshot struct {
	ID         string              `json:"sessionId"`
	Category   model.ExamCategory  `json:"category"`
	State      State               `json:"state"`
	Question   *model.Question     `json:"question,omitempty"`
	Evaluation *model.Evaluation   `json:"evaluation,omitempty"`
	Counters   model.Counters      `json:"counters"`
	Accuracy   int                 `json:"accuracy"`
	Status     model.ServiceStatus `json:"serviceStatus"`
	Messages   []model.ChatMessage `json:"messages,omitempty"`
}

// Session is one user's practice session. All exported methods are safe
// for concurrent use; blocking provider calls run outside the lock and
// their results are discarded if the session has moved on.
type Session struct {
	id        string
	generator *exam.Generator
	evaluator *exam.Evaluator
	assistant *chat.Service

	mu         sync.Mutex
	category   model.ExamCategory
	state      State
	epoch      uint64
	question   *model.Question
	evaluation *model.Evaluation
	counters   model.Counters
	tracker    health.Tracker
	history    []model.ChatMessage
}

func newSession(id string, cat model.ExamCategory, g *exam.Generator, e *exam.Evaluator, a *chat.Service) *Session {
	s := &Session{
		id:        id,
		generator: g,
		evaluator: e,
		assistant: a,
		category:  cat,
		state:     StateIdle,
	}
	s.history = []model.ChatMessage{provider.Greeting(cat)}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:       s.id,
		Category: s.category,
		State:    s.state,
		Counters: s.counters,
		Accuracy: s.counters.Accuracy(),
		Status:   s.tracker.Status(),
		Messages: append([]model.ChatMessage(nil), s.history...),
	}
	if s.question != nil {
		q := *s.question
		snap.Question = &q
	}
	if s.evaluation != nil {
		ev := *s.evaluation
		snap.Evaluation = &ev
	}
	return snap
}

// SelectCategory switches the session to a new exam category. Counters
// reset and any in-flight generate/evaluate result for the previous
// category will be discarded on arrival.
func (s *Session) SelectCategory(cat model.ExamCategory) (Snapshot, error) {
	if !cat.Valid() {
		return Snapshot{}, fmt.Errorf("unknown exam category %q", cat)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cat != s.category {
		s.category = cat
		s.counters = model.Counters{}
		s.history = []model.ChatMessage{provider.Greeting(cat)}
	}
	s.epoch++
	s.question = nil
	s.evaluation = nil
	s.state = StateIdle
	return s.snapshotLocked(), nil
}

// RequestQuestion generates a fresh question for the current category.
// It serves both the first question and "next question": counters
// persist across questions, and a newer request supersedes any older
// one still in flight.
func (s *Session) RequestQuestion(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	s.epoch++
	myEpoch := s.epoch
	cat := s.category
	s.question = nil
	s.evaluation = nil
	s.state = StateGenerating
	s.mu.Unlock()

	q, outcome, err := s.generator.Generate(ctx, cat)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != myEpoch {
		return s.snapshotLocked(), ErrStale
	}
	s.tracker.Observe(outcome)
	if err != nil {
		s.state = StateIdle
		return s.snapshotLocked(), err
	}
	s.question = &q
	s.state = StateAwaitingAnswer
	return s.snapshotLocked(), nil
}

// SubmitAnswer evaluates the submitted answer against the current
// question, then advances counters. Empty answers are rejected before
// any evaluation call is made.
func (s *Session) SubmitAnswer(ctx context.Context, answer string) (Snapshot, error) {
	s.mu.Lock()
	if s.state != StateAwaitingAnswer || s.question == nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrNoQuestion
	}
	if strings.TrimSpace(answer) == "" {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, exam.ErrEmptyAnswer
	}
	myEpoch := s.epoch
	cat := s.category
	q := *s.question
	s.state = StateEvaluating
	s.mu.Unlock()

	ev, outcome, err := s.evaluator.Evaluate(ctx, cat, q, answer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != myEpoch {
		return s.snapshotLocked(), ErrStale
	}
	s.tracker.Observe(outcome)
	if err != nil {
		s.state = StateAwaitingAnswer
		return s.snapshotLocked(), err
	}
	s.evaluation = &ev
	s.counters.Attempted++
	if ev.IsCorrect {
		s.counters.Correct++
	}
	s.state = StateAnswered
	return s.snapshotLocked(), nil
}

// Chat sends a user message to the assistant and appends both sides to
// the session history.
func (s *Session) Chat(ctx context.Context, text string) (Snapshot, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return s.Snapshot(), exam.ErrEmptyAnswer
	}

	s.mu.Lock()
	myEpoch := s.epoch
	cat := s.category
	s.history = append(s.history, model.ChatMessage{Role: model.RoleUser, Content: text})
	history := append([]model.ChatMessage(nil), s.history...)
	s.mu.Unlock()

	reply, outcome := s.assistant.Reply(ctx, cat, history)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != myEpoch {
		return s.snapshotLocked(), ErrStale
	}
	s.tracker.Observe(outcome)
	s.history = append(s.history, model.ChatMessage{Role: model.RoleAssistant, Content: reply})
	return s.snapshotLocked(), nil
}
