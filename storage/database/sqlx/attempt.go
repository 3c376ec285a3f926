package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core/attempt"
)

type attemptRepository struct {
	db *sqlx.DB
}

var _ attempt.Repository = (*attemptRepository)(nil) // interface compliance check

func NewAttemptRepository(db *sqlx.DB) *attemptRepository {
	return &attemptRepository{db: db}
}

type attemptRow struct {
	ID          string    `db:"id"`
	ExamID      string    `db:"exam_id"`
	CandidateID string    `db:"candidate_id"`
	Status      string    `db:"status"`
	StartedAt   null.Time `db:"started_at"`
	SubmittedAt null.Time `db:"submitted_at"`
	Score       int       `db:"score"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r attemptRow) unpack() attempt.Attempt {
	return attempt.Attempt{
		ID:          r.ID,
		ExamID:      r.ExamID,
		CandidateID: r.CandidateID,
		Status:      r.Status,
		StartedAt:   r.StartedAt.Time.UTC(),
		SubmittedAt: r.SubmittedAt.Time.UTC(),
		Score:       r.Score,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type answerRecordRow struct {
	ID         string         `db:"id"`
	AttemptID  string         `db:"attempt_id"`
	QuestionID string         `db:"question_id"`
	Answer     pq.StringArray `db:"answer"`
	Correct    bool           `db:"correct"`
	Score      int            `db:"score"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r answerRecordRow) unpack() attempt.AnswerRecord {
	return attempt.AnswerRecord{
		ID:         r.ID,
		AttemptID:  r.AttemptID,
		QuestionID: r.QuestionID,
		Answer:     r.Answer,
		Correct:    r.Correct,
		Score:      r.Score,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func (repo attemptRepository) CreateAttempt(ctx context.Context, att attempt.Attempt) (attempt.Attempt, error) {
	att.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO attempt (id, exam_id, candidate_id, status, started_at, submitted_at, score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		att.ID, att.ExamID, att.CandidateID, att.Status,
		null.NewTime(att.StartedAt, !att.StartedAt.IsZero()),
		null.NewTime(att.SubmittedAt, !att.SubmittedAt.IsZero()),
		att.Score, att.CreatedAt, att.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "attempt_active_key") {
			return attempt.Attempt{}, attempt.ErrDuplicateAttempt
		}
		return attempt.Attempt{}, errors.Wrap(err, "inserting attempt")
	}
	return att, nil
}

func (repo attemptRepository) StartAttempt(ctx context.Context, id string, at time.Time) (attempt.Attempt, error) {
	var row attemptRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE attempt SET status = $2, started_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING *`, id, attempt.StatusStarted, at, attempt.StatusAssigned)
	if err == sql.ErrNoRows {
		if _, gerr := repo.GetAttemptByID(ctx, id); gerr != nil {
			return attempt.Attempt{}, gerr
		}
		return attempt.Attempt{}, attempt.ErrStatusChanged
	}
	if err != nil {
		return attempt.Attempt{}, errors.Wrap(err, "starting attempt")
	}
	return row.unpack(), nil
}

func (repo attemptRepository) GetAttemptByID(ctx context.Context, id string) (attempt.Attempt, error) {
	var row attemptRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM attempt WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return attempt.Attempt{}, attempt.ErrNotFound
	}
	if err != nil {
		return attempt.Attempt{}, errors.Wrap(err, "getting attempt")
	}
	return row.unpack(), nil
}

func (repo attemptRepository) GetActiveAttempt(ctx context.Context, examID, candidateID string) (attempt.Attempt, error) {
	var row attemptRow
	err := repo.db.GetContext(ctx, &row, `
		SELECT * FROM attempt
		WHERE exam_id = $1 AND candidate_id = $2 AND status = ANY($3)
		LIMIT 1`, examID, candidateID, pq.Array(attempt.ActiveStatuses()))
	if err == sql.ErrNoRows {
		return attempt.Attempt{}, attempt.ErrNotFound
	}
	if err != nil {
		return attempt.Attempt{}, errors.Wrap(err, "getting active attempt")
	}
	return row.unpack(), nil
}

func (repo attemptRepository) CountActiveAttempts(ctx context.Context, examID, candidateID string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM attempt
		WHERE exam_id = $1 AND candidate_id = $2 AND status = ANY($3)`,
		examID, candidateID, pq.Array(attempt.ActiveStatuses()))
	return n, errors.Wrap(err, "counting active attempts")
}

func (repo attemptRepository) QueryCandidateAttempts(ctx context.Context, candidateID string) ([]attempt.Attempt, error) {
	var rows []attemptRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT * FROM attempt WHERE candidate_id = $1 ORDER BY created_at DESC`, candidateID)
	if err != nil {
		return nil, errors.Wrap(err, "querying attempts")
	}
	atts := make([]attempt.Attempt, 0, len(rows))
	for _, row := range rows {
		atts = append(atts, row.unpack())
	}
	return atts, nil
}

func (repo attemptRepository) UpdateAttemptStatus(ctx context.Context, id, to string, from ...string) (attempt.Attempt, error) {
	var row attemptRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE attempt SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING *`, id, to, pq.Array(from))
	if err == sql.ErrNoRows {
		if _, gerr := repo.GetAttemptByID(ctx, id); gerr != nil {
			return attempt.Attempt{}, gerr
		}
		return attempt.Attempt{}, attempt.ErrStatusChanged
	}
	if err != nil {
		return attempt.Attempt{}, errors.Wrap(err, "updating attempt status")
	}
	return row.unpack(), nil
}

// SaveSubmission seals the attempt and writes its answer records in one
// transaction: a crash can neither leave a completed attempt without records
// nor leak records against a non-terminal attempt.
func (repo attemptRepository) SaveSubmission(ctx context.Context, att attempt.Attempt, records []attempt.AnswerRecord) (attempt.Attempt, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return attempt.Attempt{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE attempt SET status = $2, submitted_at = $3, score = $4, updated_at = $5
		WHERE id = $1 AND status = $6`,
		att.ID, att.Status, att.SubmittedAt, att.Score, att.UpdatedAt, attempt.StatusStarted)
	if err != nil {
		return attempt.Attempt{}, errors.Wrap(err, "sealing attempt")
	}
	if n, err := res.RowsAffected(); err != nil {
		return attempt.Attempt{}, errors.Wrap(err, "sealing attempt")
	} else if n == 0 {
		return attempt.Attempt{}, attempt.ErrStatusChanged
	}

	for i := range records {
		rec := &records[i]
		rec.ID = uuid.New().String()
		rec.AttemptID = att.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO answer_record (id, attempt_id, question_id, answer, correct, score, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.ID, rec.AttemptID, rec.QuestionID, pq.Array(rec.Answer), rec.Correct, rec.Score, rec.CreatedAt)
		if err != nil {
			return attempt.Attempt{}, errors.Wrap(err, "inserting answer record")
		}
	}

	if err = tx.Commit(); err != nil {
		return attempt.Attempt{}, errors.Wrap(err, "committing tx")
	}
	return att, nil
}

func (repo attemptRepository) GetAnswerRecords(ctx context.Context, attemptID string) ([]attempt.AnswerRecord, error) {
	var rows []answerRecordRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT * FROM answer_record WHERE attempt_id = $1 ORDER BY created_at`, attemptID)
	if err != nil {
		return nil, errors.Wrap(err, "querying answer records")
	}
	records := make([]attempt.AnswerRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.unpack())
	}
	return records, nil
}

func (repo attemptRepository) QueryOverrunAttempts(ctx context.Context, now time.Time) ([]attempt.Attempt, error) {
	var rows []attemptRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT a.* FROM attempt a
		JOIN exam e ON e.id = a.exam_id
		WHERE a.status = $1
		  AND a.started_at + make_interval(secs => e.duration_secs) <= $2`,
		attempt.StatusStarted, now)
	if err != nil {
		return nil, errors.Wrap(err, "querying overrun attempts")
	}
	atts := make([]attempt.Attempt, 0, len(rows))
	for _, row := range rows {
		atts = append(atts, row.unpack())
	}
	return atts, nil
}
