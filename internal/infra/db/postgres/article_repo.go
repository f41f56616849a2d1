package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/repository"
)

var _ repository.ArticleRepository = (*articleRepo)(nil)

// articleRepo reads the CMS-owned articles table.
type articleRepo struct {
	pool *pgxpool.Pool
}

func NewArticleRepo(pool *pgxpool.Pool) *articleRepo {
	return &articleRepo{pool: pool}
}

func (r *articleRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Article, error) {
	const q = `SELECT id, organization_id, title, content FROM articles WHERE id = $1`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var a model.Article
	if err := row.Scan(&a.ID, &a.OrganizationID, &a.Title, &a.Content); err != nil {
		return nil, translate(err)
	}
	return &a, nil
}
