// Package transcript persists saved conversations. Transcripts are
// immutable: saving the same conversation twice produces two records.
package transcript

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/liangwu/tcmprep/internal/model"

	_ "modernc.org/sqlite"
)

var (
	// ErrEmptyMessages rejects saving a transcript with no messages.
	ErrEmptyMessages = errors.New("transcript has no messages")
	// ErrMissingCategory rejects saving without a valid exam category.
	ErrMissingCategory = errors.New("transcript has no valid exam category")
	// ErrNotFound reports a transcript ID with no stored record.
	ErrNotFound = errors.New("transcript not found")
)

// Store is the transcript gateway over sqlite. Writes are transactional,
// so a concurrent List sees either the old or the complete new state.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New opens (and if needed creates) the transcript database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcripts (
		id TEXT PRIMARY KEY,
		exam_category TEXT NOT NULL,
		messages TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Save stores a new transcript and returns its generated ID.
func (s *Store) Save(cat model.ExamCategory, messages []model.ChatMessage) (string, error) {
	if !cat.Valid() {
		return "", ErrMissingCategory
	}
	if len(messages) == 0 {
		return "", ErrEmptyMessages
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("marshal messages: %w", err)
	}

	id := s.newID()
	_, err = s.db.Exec(
		`INSERT INTO transcripts (id, exam_category, messages, created_at) VALUES (?, ?, ?, ?)`,
		id, string(cat), string(payload), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert transcript: %w", err)
	}
	return id, nil
}

// List returns all transcripts, newest first. The ordering is part of
// the contract, not an accident of storage.
func (s *Store) List() ([]model.Transcript, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_category, messages, created_at FROM transcripts ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []model.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows.Scan)
		if err != nil {
			return nil, err
		}
		transcripts = append(transcripts, t)
	}
	return transcripts, rows.Err()
}

// Get returns the transcript with the given ID, or ErrNotFound.
func (s *Store) Get(id string) (model.Transcript, error) {
	row := s.db.QueryRow(
		`SELECT id, exam_category, messages, created_at FROM transcripts WHERE id = ?`, id,
	)
	t, err := scanTranscript(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Transcript{}, ErrNotFound
	}
	return t, err
}

// Count returns the number of stored transcripts.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM transcripts`).Scan(&count)
	return count, err
}

func scanTranscript(scan func(dest ...any) error) (model.Transcript, error) {
	var t model.Transcript
	var category, payload string
	if err := scan(&t.ID, &category, &payload, &t.CreatedAt); err != nil {
		return model.Transcript{}, err
	}
	t.Category = model.ExamCategory(category)
	if err := json.Unmarshal([]byte(payload), &t.Messages); err != nil {
		return model.Transcript{}, fmt.Errorf("unmarshal messages for %s: %w", t.ID, err)
	}
	return t, nil
}
