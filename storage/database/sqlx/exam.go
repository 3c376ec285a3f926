package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

type examRepository struct {
	db *sqlx.DB
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(db *sqlx.DB) *examRepository {
	return &examRepository{db: db}
}

type examRow struct {
	ID                   string    `db:"id"`
	Title                string    `db:"title"`
	Description          string    `db:"description"`
	Status               string    `db:"status"`
	StartAt              time.Time `db:"start_at"`
	EndAt                time.Time `db:"end_at"`
	RegistrationDeadline time.Time `db:"registration_deadline"`
	DurationSecs         int64     `db:"duration_secs"`
	TotalScore           int       `db:"total_score"`
	PassScore            int       `db:"pass_score"`
	RequiresApproval     bool      `db:"requires_approval"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (r examRow) unpack() exam.Exam {
	return exam.Exam{
		ID:                   r.ID,
		Title:                r.Title,
		Description:          r.Description,
		Status:               r.Status,
		StartAt:              r.StartAt.UTC(),
		EndAt:                r.EndAt.UTC(),
		RegistrationDeadline: r.RegistrationDeadline.UTC(),
		Duration:             time.Duration(r.DurationSecs) * time.Second,
		TotalScore:           r.TotalScore,
		PassScore:            r.PassScore,
		RequiresApproval:     r.RequiresApproval,
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
	}
}

type questionRow struct {
	ID       string         `db:"id"`
	ExamID   string         `db:"exam_id"`
	Type     string         `db:"type"`
	Prompt   string         `db:"prompt"`
	Choices  pq.StringArray `db:"choices"`
	Correct  pq.StringArray `db:"correct"`
	Score    int            `db:"score"`
	Position int            `db:"position"`
}

func (r questionRow) unpack() exam.Question {
	return exam.Question{
		ID:       r.ID,
		ExamID:   r.ExamID,
		Type:     r.Type,
		Prompt:   r.Prompt,
		Choices:  r.Choices,
		Correct:  r.Correct,
		Score:    r.Score,
		Position: r.Position,
	}
}

type registrationRow struct {
	ID          string    `db:"id"`
	ExamID      string    `db:"exam_id"`
	CandidateID string    `db:"candidate_id"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r registrationRow) unpack() exam.Registration {
	return exam.Registration{
		ID:          r.ID,
		ExamID:      r.ExamID,
		CandidateID: r.CandidateID,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (repo examRepository) CreateExam(ctx context.Context, ex exam.Exam, questions []exam.Question) (exam.Exam, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return exam.Exam{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	ex.ID = uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO exam (id, title, description, status, start_at, end_at, registration_deadline,
		                  duration_secs, total_score, pass_score, requires_approval, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ex.ID, ex.Title, ex.Description, ex.Status, ex.StartAt, ex.EndAt, ex.RegistrationDeadline,
		int64(ex.Duration/time.Second), ex.TotalScore, ex.PassScore, ex.RequiresApproval, ex.CreatedAt, ex.UpdatedAt)
	if err != nil {
		return exam.Exam{}, errors.Wrap(err, "inserting exam")
	}

	for i := range questions {
		q := &questions[i]
		q.ID = uuid.New().String()
		q.ExamID = ex.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO question (id, exam_id, type, prompt, choices, correct, score, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			q.ID, q.ExamID, q.Type, q.Prompt, pq.Array(q.Choices), pq.Array(q.Correct), q.Score, q.Position)
		if err != nil {
			return exam.Exam{}, errors.Wrap(err, "inserting question")
		}
	}

	if err = tx.Commit(); err != nil {
		return exam.Exam{}, errors.Wrap(err, "committing tx")
	}
	return ex, nil
}

func (repo examRepository) GetExamByID(ctx context.Context, id string) (exam.Exam, error) {
	var row examRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM exam WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return exam.Exam{}, exam.ErrNotFound
	}
	if err != nil {
		return exam.Exam{}, errors.Wrap(err, "getting exam")
	}
	return row.unpack(), nil
}

func (repo examRepository) QueryExams(ctx context.Context, filter exam.QueryFilter) ([]exam.Exam, error) {
	q := `SELECT * FROM exam WHERE 1=1`
	var args []interface{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		q += ` AND status = $1`
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		q += ` AND (title ILIKE $` + itoa(len(args)) + ` OR description ILIKE $` + itoa(len(args)) + `)`
	}
	ord := filter.Ordering
	if ord.Field == "" {
		ord = core.DBOrdering{Field: "start_at", Ascending: true}
	}
	q += ` ORDER BY ` + ord.String()

	var rows []examRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying exams")
	}
	exams := make([]exam.Exam, 0, len(rows))
	for _, row := range rows {
		exams = append(exams, row.unpack())
	}
	return exams, nil
}

func (repo examRepository) UpdateExamStatus(ctx context.Context, id, from, to string) (exam.Exam, error) {
	var row examRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE exam SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING *`, id, from, to)
	if err == sql.ErrNoRows {
		if _, gerr := repo.GetExamByID(ctx, id); gerr != nil {
			return exam.Exam{}, gerr
		}
		return exam.Exam{}, exam.ErrStatusChanged
	}
	if err != nil {
		return exam.Exam{}, errors.Wrap(err, "updating exam status")
	}
	return row.unpack(), nil
}

func (repo examRepository) GetExamQuestions(ctx context.Context, examID string) ([]exam.Question, error) {
	var rows []questionRow
	err := repo.db.SelectContext(ctx, &rows, `SELECT * FROM question WHERE exam_id = $1 ORDER BY position`, examID)
	if err != nil {
		return nil, errors.Wrap(err, "querying questions")
	}
	questions := make([]exam.Question, 0, len(rows))
	for _, row := range rows {
		questions = append(questions, row.unpack())
	}
	return questions, nil
}

func (repo examRepository) CreateRegistration(ctx context.Context, reg exam.Registration) (exam.Registration, error) {
	reg.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO registration (id, exam_id, candidate_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		reg.ID, reg.ExamID, reg.CandidateID, reg.Status, reg.CreatedAt, reg.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "registration_active_key") {
			return exam.Registration{}, exam.ErrAlreadyRegistered
		}
		return exam.Registration{}, errors.Wrap(err, "inserting registration")
	}
	return reg, nil
}

func (repo examRepository) GetRegistration(ctx context.Context, examID, candidateID string) (exam.Registration, error) {
	var row registrationRow
	err := repo.db.GetContext(ctx, &row, `
		SELECT * FROM registration
		WHERE exam_id = $1 AND candidate_id = $2
		ORDER BY created_at DESC LIMIT 1`, examID, candidateID)
	if err == sql.ErrNoRows {
		return exam.Registration{}, exam.ErrRegistrationNotFound
	}
	if err != nil {
		return exam.Registration{}, errors.Wrap(err, "getting registration")
	}
	return row.unpack(), nil
}

func (repo examRepository) GetRegistrationByID(ctx context.Context, id string) (exam.Registration, error) {
	var row registrationRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM registration WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return exam.Registration{}, exam.ErrRegistrationNotFound
	}
	if err != nil {
		return exam.Registration{}, errors.Wrap(err, "getting registration")
	}
	return row.unpack(), nil
}

func (repo examRepository) UpdateRegistrationStatus(ctx context.Context, id, from, to string) (exam.Registration, error) {
	var row registrationRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE registration SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING *`, id, from, to)
	if err == sql.ErrNoRows {
		if _, gerr := repo.GetRegistrationByID(ctx, id); gerr != nil {
			return exam.Registration{}, gerr
		}
		return exam.Registration{}, exam.ErrStatusChanged
	}
	if err != nil {
		return exam.Registration{}, errors.Wrap(err, "updating registration status")
	}
	return row.unpack(), nil
}
