package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/repository"
)

var _ repository.SubmissionRepository = (*submissionRepo)(nil)

type submissionRepo struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepo(pool *pgxpool.Pool) *submissionRepo {
	return &submissionRepo{pool: pool}
}

func (r *submissionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Submission) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = model.SubmissionPending
	}

	const q = `
INSERT INTO submissions (id, organization_id, article_id, language, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.OrganizationID, s.ArticleID, s.Language, string(s.Status), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", translate(err))
	}
	return nil
}

func (r *submissionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Submission, error) {
	const q = `
SELECT id, organization_id, article_id, language, status, created_at, updated_at
FROM submissions WHERE id = $1`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var s model.Submission
	var status string
	if err := row.Scan(&s.ID, &s.OrganizationID, &s.ArticleID, &s.Language, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	s.Status = model.SubmissionStatus(status)
	return &s, nil
}

// UpdateStatus only touches updated_at when the status actually changes, so
// repeated recomputes are no-ops.
func (r *submissionRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.SubmissionStatus) error {
	const q = `
UPDATE submissions
SET status = $2,
    updated_at = CASE WHEN status = $2 THEN updated_at ELSE NOW() END
WHERE id = $1`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(status))
	if err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
