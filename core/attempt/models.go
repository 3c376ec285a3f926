package attempt

import (
	"time"

	"github.com/trezcool/mtihani/core"
)

// Attempt statuses. Completed, Expired and Cancelled are terminal: no
// component may resurrect a terminal attempt.
const (
	StatusAssigned  = "assigned"
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// ActiveStatuses are the non-terminal statuses; at most one attempt per
// (exam, candidate) pair may be in one of them at any time.
func ActiveStatuses() []string { return []string{StatusAssigned, StatusStarted} }

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Attempt is one candidate's exam session, from start to terminal state.
type Attempt struct {
	ID          string    `json:"id"`
	ExamID      string    `json:"exam_id"`
	CandidateID string    `json:"candidate_id"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`             // UTC
	SubmittedAt time.Time `json:"submitted_at,omitempty"` // UTC; zero until completed
	Score       int       `json:"score"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

func (a Attempt) IsStarted() bool  { return a.Status == StatusStarted }
func (a Attempt) IsTerminal() bool { return IsTerminal(a.Status) }

// Elapsed is the server-side elapsed exam time; the client's clock is never
// consulted.
func (a Attempt) Elapsed(now time.Time) time.Duration {
	if a.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(a.StartedAt)
}

// AnswerRecord is written only by grading and is immutable thereafter.
type AnswerRecord struct {
	ID         string    `json:"id"`
	AttemptID  string    `json:"attempt_id"`
	QuestionID string    `json:"question_id"`
	Answer     []string  `json:"answer"`
	Correct    bool      `json:"correct"`
	Score      int       `json:"score"`
	CreatedAt  time.Time `json:"created_at"` // UTC
}

// Answer is a candidate's submitted answer to one question.
type Answer struct {
	QuestionID string   `json:"question_id" validate:"required"`
	Values     []string `json:"values"`
}

// Submission is the full payload of a submit call. A partial set of answers
// is acceptable; unanswered questions simply score zero.
type Submission struct {
	Answers []Answer `json:"answers" validate:"dive"`
}

func (s *Submission) Validate() error {
	for i := range s.Answers {
		s.Answers[i].QuestionID = core.CleanString(s.Answers[i].QuestionID)
	}
	return core.Validate.Struct(s)
}

// Result is the outcome of grading a submission.
type Result struct {
	AttemptID      string         `json:"attempt_id"`
	Score          int            `json:"score"`
	TotalScore     int            `json:"total_score"`
	CorrectCount   int            `json:"correct_count"`
	TotalQuestions int            `json:"total_questions"`
	Percentage     float64        `json:"percentage"`
	Passed         bool           `json:"passed"`
	Breakdown      []AnswerRecord `json:"breakdown"`
}
