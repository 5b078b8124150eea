package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/liangwu/tcmprep/internal/chat"
	"github.com/liangwu/tcmprep/internal/exam"
	"github.com/liangwu/tcmprep/internal/fallback"
	"github.com/liangwu/tcmprep/internal/model"
	"github.com/liangwu/tcmprep/internal/provider"
)

// fakeCompleter stubs question generation and answer evaluation. When
// block is set the call signals started and then holds until block is
// closed, which lets tests supersede an in-flight request.
type fakeCompleter struct {
	mu      sync.Mutex
	resp    string
	err     error
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, _, _ string, _ float32) (string, error) {
	f.mu.Lock()
	f.calls++
	resp, err, block, started := f.resp, f.err, f.block, f.started
	f.started = nil
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	return resp, err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeChatter struct {
	reply string
	err   error
}

func (f *fakeChatter) Chat(_ context.Context, _ []model.ChatMessage, _ provider.Options) (string, error) {
	return f.reply, f.err
}

const questionJSON = `{"question":"下列哪项属于八纲辨证的内容？","type":"multiple-choice","options":["A. 气血津液","B. 阴阳表里寒热虚实","C. 脏腑经络","D. 卫气营血"],"correct_answer":"B"}`

func newTestManager(t *testing.T, fc *fakeCompleter, ch *fakeChatter) *Manager {
	t.Helper()
	bank, err := fallback.Load()
	if err != nil {
		t.Fatalf("load bank: %v", err)
	}
	if ch == nil {
		ch = &fakeChatter{reply: "好的。"}
	}
	return NewManager(
		exam.NewGenerator(fc, bank),
		exam.NewEvaluator(fc, bank),
		chat.New(ch, bank),
	)
}

func TestManagerCreate(t *testing.T) {
	m := newTestManager(t, &fakeCompleter{resp: questionJSON}, nil)

	a, err := m.Create(model.CategoryPhysician)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := m.Create("not-a-category")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID() == b.ID() {
		t.Error("sessions must get distinct IDs")
	}
	if got := b.Snapshot().Category; got != model.CategoryPharmacist {
		t.Errorf("invalid category should default to pharmacist, got %q", got)
	}
	if s, ok := m.Get(a.ID()); !ok || s != a {
		t.Error("Get should return the created session")
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("Get of unknown ID should report not found")
	}
}

func TestPracticeCycle(t *testing.T) {
	fc := &fakeCompleter{resp: questionJSON}
	m := newTestManager(t, fc, nil)
	s, _ := m.Create(model.CategoryPhysician)

	snap, err := s.RequestQuestion(context.Background())
	if err != nil {
		t.Fatalf("RequestQuestion: %v", err)
	}
	if snap.State != StateAwaitingAnswer || snap.Question == nil {
		t.Fatalf("state = %q, question = %v", snap.State, snap.Question)
	}

	fc.mu.Lock()
	fc.resp = `{"is_correct":true,"explanation":"八纲即阴阳、表里、寒热、虚实。"}`
	fc.mu.Unlock()

	snap, err = s.SubmitAnswer(context.Background(), "B")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if snap.State != StateAnswered || snap.Evaluation == nil {
		t.Fatalf("state = %q, evaluation = %v", snap.State, snap.Evaluation)
	}
	if snap.Counters.Attempted != 1 || snap.Counters.Correct != 1 {
		t.Errorf("counters = %+v", snap.Counters)
	}

	// Next question: counters persist, evaluation clears.
	fc.mu.Lock()
	fc.resp = questionJSON
	fc.mu.Unlock()
	snap, err = s.RequestQuestion(context.Background())
	if err != nil {
		t.Fatalf("RequestQuestion: %v", err)
	}
	if snap.Counters.Attempted != 1 {
		t.Errorf("counters reset across questions: %+v", snap.Counters)
	}
	if snap.Evaluation != nil {
		t.Error("evaluation should clear on a new question")
	}

	fc.mu.Lock()
	fc.resp = `{"is_correct":false,"explanation":"答案应为B。"}`
	fc.mu.Unlock()
	snap, err = s.SubmitAnswer(context.Background(), "A")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if snap.Counters.Attempted != 2 || snap.Counters.Correct != 1 {
		t.Errorf("counters = %+v", snap.Counters)
	}
	if snap.Counters.Correct > snap.Counters.Attempted {
		t.Error("correct must never exceed attempted")
	}
	if snap.Accuracy != 50 {
		t.Errorf("accuracy = %d, want 50", snap.Accuracy)
	}
}

func TestSubmitAnswerGuards(t *testing.T) {
	fc := &fakeCompleter{resp: questionJSON}
	m := newTestManager(t, fc, nil)
	s, _ := m.Create(model.CategorySpecialist)

	if _, err := s.SubmitAnswer(context.Background(), "A"); !errors.Is(err, ErrNoQuestion) {
		t.Errorf("answer without question: err = %v, want ErrNoQuestion", err)
	}

	if _, err := s.RequestQuestion(context.Background()); err != nil {
		t.Fatalf("RequestQuestion: %v", err)
	}
	before := fc.callCount()
	if _, err := s.SubmitAnswer(context.Background(), "   "); !errors.Is(err, exam.ErrEmptyAnswer) {
		t.Errorf("blank answer: err = %v, want ErrEmptyAnswer", err)
	}
	if fc.callCount() != before {
		t.Error("blank answer must not reach the evaluator")
	}

	snap := s.Snapshot()
	if snap.State != StateAwaitingAnswer {
		t.Errorf("blank answer should leave the question pending, state = %q", snap.State)
	}
}

func TestSelectCategoryResets(t *testing.T) {
	fc := &fakeCompleter{resp: questionJSON}
	m := newTestManager(t, fc, nil)
	s, _ := m.Create(model.CategoryPharmacist)

	if _, err := s.RequestQuestion(context.Background()); err != nil {
		t.Fatalf("RequestQuestion: %v", err)
	}
	fc.mu.Lock()
	fc.resp = `{"is_correct":true,"explanation":"正确。"}`
	fc.mu.Unlock()
	if _, err := s.SubmitAnswer(context.Background(), "B"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	snap, err := s.SelectCategory(model.CategoryPhysician)
	if err != nil {
		t.Fatalf("SelectCategory: %v", err)
	}
	if snap.Counters != (model.Counters{}) {
		t.Errorf("category change should reset counters, got %+v", snap.Counters)
	}
	if snap.State != StateIdle || snap.Question != nil || snap.Evaluation != nil {
		t.Errorf("category change should clear the cycle: %+v", snap)
	}
	if len(snap.Messages) != 1 || !strings.Contains(snap.Messages[0].Content, model.CategoryPhysician.DisplayName()) {
		t.Errorf("history should restart with the new category greeting: %+v", snap.Messages)
	}

	if _, err := s.SelectCategory("nope"); err == nil {
		t.Error("unknown category must be rejected")
	}
	if got := s.Snapshot().Category; got != model.CategoryPhysician {
		t.Errorf("rejected selection must not change the category, got %q", got)
	}
}

func TestStaleQuestionDiscarded(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	fc := &fakeCompleter{resp: questionJSON, block: block, started: started}
	m := newTestManager(t, fc, nil)
	s, _ := m.Create(model.CategoryPharmacist)

	done := make(chan error, 1)
	go func() {
		_, err := s.RequestQuestion(context.Background())
		done <- err
	}()

	// Wait for the request to reach the provider, then supersede it.
	<-started
	if _, err := s.SelectCategory(model.CategoryPhysician); err != nil {
		t.Fatalf("SelectCategory: %v", err)
	}
	close(block)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Errorf("superseded request: err = %v, want ErrStale", err)
	}
	snap := s.Snapshot()
	if snap.Question != nil {
		t.Error("stale question must not land in the session")
	}
	if snap.Category != model.CategoryPhysician {
		t.Errorf("category = %q, want the newly selected one", snap.Category)
	}
}

func TestStaleEvaluationDiscarded(t *testing.T) {
	fc := &fakeCompleter{resp: questionJSON}
	m := newTestManager(t, fc, nil)
	s, _ := m.Create(model.CategoryAssistant)

	if _, err := s.RequestQuestion(context.Background()); err != nil {
		t.Fatalf("RequestQuestion: %v", err)
	}

	block := make(chan struct{})
	started := make(chan struct{})
	fc.mu.Lock()
	fc.resp = `{"is_correct":true,"explanation":"正确。"}`
	fc.block = block
	fc.started = started
	fc.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.SubmitAnswer(context.Background(), "B")
		done <- err
	}()

	<-started
	if _, err := s.SelectCategory(model.CategoryPhysician); err != nil {
		t.Fatalf("SelectCategory: %v", err)
	}
	close(block)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Errorf("superseded evaluation: err = %v, want ErrStale", err)
	}
	snap := s.Snapshot()
	if snap.Counters.Attempted != 0 {
		t.Errorf("stale evaluation must not advance counters: %+v", snap.Counters)
	}
}

func TestChatAppendsBothSides(t *testing.T) {
	fc := &fakeCompleter{resp: questionJSON}
	ch := &fakeChatter{reply: "六淫是风、寒、暑、湿、燥、火六种外感病邪的统称。"}
	m := newTestManager(t, fc, ch)
	s, _ := m.Create(model.CategoryPhysician)

	snap, err := s.Chat(context.Background(), "什么是六淫？")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	// Greeting, user message, assistant reply.
	if len(snap.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(snap.Messages))
	}
	if snap.Messages[1].Role != model.RoleUser || snap.Messages[2].Role != model.RoleAssistant {
		t.Errorf("unexpected roles: %+v", snap.Messages)
	}
	if snap.Messages[2].Content != ch.reply {
		t.Errorf("reply = %q", snap.Messages[2].Content)
	}
	if snap.Status != model.StatusAvailable {
		t.Errorf("status = %q", snap.Status)
	}
}

func TestChatOfflineDegradesStatus(t *testing.T) {
	fc := &fakeCompleter{resp: questionJSON}
	ch := &fakeChatter{err: errors.New("connection refused")}
	m := newTestManager(t, fc, ch)
	s, _ := m.Create(model.CategoryPharmacist)

	snap, err := s.Chat(context.Background(), "你好")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if snap.Status != model.StatusUnavailable {
		t.Errorf("status = %q, want unavailable", snap.Status)
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Content != fallback.ChatOfflineReply {
		t.Errorf("reply = %q, want the offline reply", last.Content)
	}
}

func TestDegradedGenerationSetsLimited(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("down")}
	m := newTestManager(t, fc, nil)
	s, _ := m.Create(model.CategorySpecialist)

	snap, err := s.RequestQuestion(context.Background())
	if err != nil {
		t.Fatalf("RequestQuestion: %v", err)
	}
	if snap.Status != model.StatusLimited {
		t.Errorf("status = %q, want limited after bank fallback", snap.Status)
	}
	if snap.Question == nil {
		t.Fatal("fallback question expected")
	}

	// Recovery: a genuine provider question restores availability.
	fc.mu.Lock()
	fc.err = nil
	fc.resp = questionJSON
	fc.mu.Unlock()
	snap, err = s.RequestQuestion(context.Background())
	if err != nil {
		t.Fatalf("RequestQuestion: %v", err)
	}
	if snap.Status != model.StatusAvailable {
		t.Errorf("status = %q, want available after recovery", snap.Status)
	}
}
