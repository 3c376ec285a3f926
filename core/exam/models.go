package exam

import (
	"time"

	"github.com/trezcool/mtihani/core"
)

// Exam statuses
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Registration statuses
const (
	RegistrationPending   = "pending"
	RegistrationApproved  = "approved"
	RegistrationCancelled = "cancelled"
)

// Question types
const (
	QuestionSingleChoice   = "single_choice"
	QuestionMultipleChoice = "multiple_choice"
	QuestionTrueFalse      = "true_false"
	QuestionFillBlank      = "fill_blank"
	QuestionEssay          = "essay"
)

// Exam is immutable once an attempt exists against it, except for
// administrative archival.
type Exam struct {
	ID                   string        `json:"id"`
	Title                string        `json:"title"`
	Description          string        `json:"description,omitempty"`
	Status               string        `json:"status"`
	StartAt              time.Time     `json:"start_at"`              // UTC
	EndAt                time.Time     `json:"end_at"`                // UTC
	RegistrationDeadline time.Time     `json:"registration_deadline"` // UTC
	Duration             time.Duration `json:"duration"`
	TotalScore           int           `json:"total_score"`
	PassScore            int           `json:"pass_score"`
	RequiresApproval     bool          `json:"requires_approval"`
	CreatedAt            time.Time     `json:"created_at"` // UTC
	UpdatedAt            time.Time     `json:"updated_at"` // UTC
}

func (e Exam) IsPublished() bool { return e.Status == StatusPublished }

// RegistrationOpen reports whether candidates may still register at `now`.
func (e Exam) RegistrationOpen(now time.Time) bool {
	return now.Before(e.RegistrationDeadline)
}

// WindowOpen reports whether an attempt may be started at `now`.
func (e Exam) WindowOpen(now time.Time) bool {
	return !now.Before(e.StartAt) && now.Before(e.EndAt)
}

// Question is owned by its exam and read-only to the grading path.
// The answer key is never serialized.
type Question struct {
	ID       string   `json:"id"`
	ExamID   string   `json:"exam_id"`
	Type     string   `json:"type"`
	Prompt   string   `json:"prompt"`
	Choices  []string `json:"choices,omitempty"`
	Correct  []string `json:"-"`
	Score    int      `json:"score"`
	Position int      `json:"position"`
}

// Registration ties a candidate to an exam. At most one non-cancelled
// registration exists per (exam, candidate) pair.
type Registration struct {
	ID          string    `json:"id"`
	ExamID      string    `json:"exam_id"`
	CandidateID string    `json:"candidate_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

func (r Registration) IsApproved() bool  { return r.Status == RegistrationApproved }
func (r Registration) IsPending() bool   { return r.Status == RegistrationPending }
func (r Registration) IsCancelled() bool { return r.Status == RegistrationCancelled }

// NewExam contains information needed to create a new Exam. Used by the admin
// seeding path; candidates never create exams.
type NewExam struct {
	Title                string        `json:"title" validate:"required"`
	Description          string        `json:"description"`
	StartAt              time.Time     `json:"start_at" validate:"required"`
	EndAt                time.Time     `json:"end_at" validate:"required,gtfield=StartAt"`
	RegistrationDeadline time.Time     `json:"registration_deadline" validate:"required"`
	Duration             time.Duration `json:"duration" validate:"required,gt=0"`
	PassScore            int           `json:"pass_score" validate:"gte=0"`
	RequiresApproval     bool          `json:"requires_approval"`
	Questions            []NewQuestion `json:"questions" validate:"required,min=1,dive"`
}

type NewQuestion struct {
	Type    string   `json:"type" validate:"required,oneof=single_choice multiple_choice true_false fill_blank essay"`
	Prompt  string   `json:"prompt" validate:"required"`
	Choices []string `json:"choices"`
	Correct []string `json:"correct"`
	Score   int      `json:"score" validate:"required,gt=0"`
}

func (ne *NewExam) Validate() error {
	ne.Title = core.CleanString(ne.Title)
	ne.Description = core.CleanString(ne.Description)
	return core.Validate.Struct(ne)
}

// QueryFilter narrows exam catalog queries.
type QueryFilter struct {
	Search string `query:"search"`
	Status string `query:"status"`

	Ordering core.DBOrdering `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	if qf.Ordering.Field == "" {
		qf.Ordering = core.DBOrdering{Field: "start_at", Ascending: true}
	}
}
