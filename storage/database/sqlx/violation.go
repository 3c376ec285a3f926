package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mtihani/core/integrity"
)

type violationRepository struct {
	db *sqlx.DB
}

var _ integrity.Repository = (*violationRepository)(nil) // interface compliance check

func NewViolationRepository(db *sqlx.DB) *violationRepository {
	return &violationRepository{db: db}
}

type violationRow struct {
	ID          string     `db:"id"`
	AttemptID   string     `db:"attempt_id"`
	ExamID      string     `db:"exam_id"`
	CandidateID string     `db:"candidate_id"`
	Type        string     `db:"type"`
	Severity    string     `db:"severity"`
	Description string     `db:"description"`
	Meta        null.Bytes `db:"meta"`
	CreatedAt   time.Time  `db:"created_at"`
}

func (r violationRow) unpack() (integrity.Violation, error) {
	v := integrity.Violation{
		ID:          r.ID,
		AttemptID:   r.AttemptID,
		ExamID:      r.ExamID,
		CandidateID: r.CandidateID,
		Type:        r.Type,
		Severity:    r.Severity,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.Meta.Valid {
		if err := json.Unmarshal(r.Meta.Bytes, &v.Meta); err != nil {
			return integrity.Violation{}, errors.Wrap(err, "decoding violation meta")
		}
	}
	return v, nil
}

func (repo violationRepository) CreateViolation(ctx context.Context, v integrity.Violation) (integrity.Violation, error) {
	v.ID = uuid.New().String()

	var meta null.Bytes
	if v.Meta != nil {
		b, err := json.Marshal(v.Meta)
		if err != nil {
			return integrity.Violation{}, errors.Wrap(err, "encoding violation meta")
		}
		meta = null.BytesFrom(b)
	}

	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO violation (id, attempt_id, exam_id, candidate_id, type, severity, description, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.AttemptID, v.ExamID, v.CandidateID, v.Type, v.Severity, v.Description, meta, v.CreatedAt)
	if err != nil {
		return integrity.Violation{}, errors.Wrap(err, "inserting violation")
	}
	return v, nil
}

func (repo violationRepository) QueryAttemptViolations(ctx context.Context, attemptID string) ([]integrity.Violation, error) {
	var rows []violationRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT * FROM violation WHERE attempt_id = $1 ORDER BY created_at`, attemptID)
	if err != nil {
		return nil, errors.Wrap(err, "querying violations")
	}
	violations := make([]integrity.Violation, 0, len(rows))
	for _, row := range rows {
		v, err := row.unpack()
		if err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, nil
}

func (repo violationRepository) CountAttemptViolations(ctx context.Context, attemptID, vtype string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM violation WHERE attempt_id = $1 AND type = $2`, attemptID, vtype)
	return n, errors.Wrap(err, "counting violations")
}
