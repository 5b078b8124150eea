package model

import (
	"time"
)

// ExamCategory identifies one of the supported certification tracks.
type ExamCategory string

const (
	CategoryPharmacist ExamCategory = "pharmacist"
	CategorySpecialist ExamCategory = "specialist"
	CategoryAssistant  ExamCategory = "assistant"
	CategoryPhysician  ExamCategory = "physician"
)

// Categories lists all supported exam categories in display order.
var Categories = []ExamCategory{
	CategoryPharmacist,
	CategorySpecialist,
	CategoryAssistant,
	CategoryPhysician,
}

var categoryNames = map[ExamCategory]string{
	CategoryPharmacist: "中药师",
	CategorySpecialist: "中医确有专长",
	CategoryAssistant:  "中医助理医师",
	CategoryPhysician:  "中医执业医师",
}

// Valid reports whether c is a known exam category.
func (c ExamCategory) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

// DisplayName returns the Chinese display name for the category.
func (c ExamCategory) DisplayName() string {
	return categoryNames[c]
}

// QuestionKind distinguishes multiple-choice from free-text questions.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple-choice"
	KindShortAnswer    QuestionKind = "short-answer"
)

// Question is a single exam question. Options is non-empty iff Kind is
// multiple-choice; each option carries its letter label ("A. ...").
// A Question is immutable once issued and lives for one exam turn.
type Question struct {
	Prompt          string       `json:"question"`
	Kind            QuestionKind `json:"questionType"`
	Options         []string     `json:"options,omitempty"`
	CanonicalAnswer string       `json:"correctAnswer"`
}

// Evaluation is the verdict for one submitted answer.
type Evaluation struct {
	IsCorrect       bool   `json:"isCorrect"`
	Explanation     string `json:"explanation"`
	CanonicalAnswer string `json:"correctAnswer"`
}

// ServiceStatus classifies the current operating mode of the AI provider
// as observed from recent call outcomes.
type ServiceStatus string

const (
	StatusAvailable   ServiceStatus = "available"
	StatusLimited     ServiceStatus = "limited"
	StatusUnavailable ServiceStatus = "unavailable"
)

// Role is a chat message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one entry in a conversation.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is an immutable saved conversation. Re-saving the same
// conversation produces a new Transcript with a new ID.
type Transcript struct {
	ID        string        `json:"id"`
	Category  ExamCategory  `json:"examCategory"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Counters tracks per-session exam progress. Correct never exceeds
// Attempted; both reset when the category changes.
type Counters struct {
	Attempted int `json:"attempted"`
	Correct   int `json:"correct"`
}

// Accuracy returns the correct-answer percentage, rounded down, or 0
// when nothing has been attempted.
func (c Counters) Accuracy() int {
	if c.Attempted == 0 {
		return 0
	}
	return c.Correct * 100 / c.Attempted
}
