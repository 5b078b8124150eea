package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/liangwu/tcmprep/internal/chat"
	"github.com/liangwu/tcmprep/internal/exam"
	"github.com/liangwu/tcmprep/internal/model"
)

// Manager owns all live sessions. Sessions are independent; the manager
// only guards the registry itself.
type Manager struct {
	generator *exam.Generator
	evaluator *exam.Evaluator
	assistant *chat.Service

	mu       sync.Mutex
	entropy  *ulid.MonotonicEntropy
	sessions map[string]*Session
}

// NewManager creates a session registry.
func NewManager(g *exam.Generator, e *exam.Evaluator, a *chat.Service) *Manager {
	return &Manager{
		generator: g,
		evaluator: e,
		assistant: a,
		entropy:   ulid.Monotonic(rand.Reader, 0),
		sessions:  make(map[string]*Session),
	}
}

// Create starts a new session for the given category.
func (m *Manager) Create(cat model.ExamCategory) (*Session, error) {
	if !cat.Valid() {
		cat = model.CategoryPharmacist
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
	s := newSession(id, cat, m.generator, m.evaluator, m.assistant)
	m.sessions[id] = s
	return s, nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}
