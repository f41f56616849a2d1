package repository

import (
	"context"

	"media-pipeline/internal/domain/model"
)

type SubmissionRepository interface {
	Create(ctx context.Context, tx Tx, s *model.Submission) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Submission, error)
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.SubmissionStatus) error
}

type ArticleRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Article, error)
}
